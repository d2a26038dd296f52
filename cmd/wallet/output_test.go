package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestOutputJQ(t *testing.T) {
	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	input := []item{{"a", 1}, {"b", 2}}

	tests := []struct {
		name    string
		filter  string
		want    string
		wantErr bool
	}{
		{name: "string results print raw", filter: ".[].name", want: "a\nb\n"},
		{name: "numbers print as json", filter: "map(.count) | add", want: "3\n"},
		{name: "select", filter: `.[] | select(.count > 1) | .name`, want: "b\n"},
		{name: "no results", filter: `.[] | select(.count > 5)`, want: ""},
		{name: "parse error", filter: ".[", wantErr: true},
		{name: "runtime error", filter: ".name", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := outputJQ(&buf, input, tt.filter)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestDecodeTransactions(t *testing.T) {
	raw, err := decodeTransactions([]string{"AQID"}, "base64")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 2, 3}}, raw)

	raw, err = decodeTransactions([]string{"Ldp"}, "base58")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 2, 3}}, raw)

	_, err = decodeTransactions([]string{"AQID", "!!"}, "base64")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction 1")

	_, err = decodeTransactions([]string{"AQID"}, "hex")
	require.Error(t, err)
}

func TestReadMnemonic(t *testing.T) {
	run := func(stdin string) (string, error) {
		var got string
		app := &cli.App{
			Reader: strings.NewReader(stdin),
			Action: func(c *cli.Context) error {
				var err error
				got, err = readMnemonic(c)
				return err
			},
		}
		err := app.Run([]string{"wallet"})
		return got, err
	}

	got, err := run("  abandon abandon about\n")
	require.NoError(t, err)
	assert.Equal(t, "abandon abandon about", got)

	_, err = run("\n")
	require.Error(t, err)
}

func TestLocalCommandsRequireConfig(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "")
	_, err := runCLI(t, "session", "list")
	require.Error(t, err)
}

func TestSimulationViewPresentsGroupedAccounts(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	token := solana.NewWallet().PublicKey()
	untouched := solana.NewWallet().PublicKey()
	report := &simulator.Report{
		Wallet: wallet,
		Results: []simulator.Result{{
			SolFee: 5000,
			WritableAccounts: []simulator.WritableAccount{
				{Address: untouched, Name: simulator.NameUnknown},
				{Address: token, Owner: &wallet, Name: simulator.NameTokenAccount},
				{Address: wallet, Name: simulator.NameNativeSOL},
			},
			Warnings: []simulator.Warning{
				{Severity: simulator.SeverityWarning, Account: &untouched, ShortMessage: simulator.ShortMessageUnchanged},
				{Severity: simulator.SeverityCritical, Account: &token, ShortMessage: "Delegation Granted"},
			},
		}},
		Summary: simulator.Summary{TotalFee: 5000, Balance: 1_000_000_000},
	}

	view := newSimulationView(report)
	require.Len(t, view.Presentations, 1)
	require.Len(t, view.Fees, 1)
	assert.Equal(t, uint64(5000), view.Fees[0].SolFee)

	var buf bytes.Buffer
	printSimulation(&buf, view)
	out := buf.String()

	tokenAt := strings.Index(out, token.String())
	walletAt := strings.Index(out, wallet.String()+" "+simulator.NameNativeSOL)
	require.NotEqual(t, -1, tokenAt)
	require.NotEqual(t, -1, walletAt)
	assert.Less(t, tokenAt, walletAt, "accounts with warnings come first")
	assert.Contains(t, out, "Delegation Granted")
	assert.Contains(t, out, "1 accounts with unknown changes")
	assert.NotContains(t, out, untouched.String())
}
