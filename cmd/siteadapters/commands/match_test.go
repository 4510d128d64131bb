package commands

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testAccounts = []accountRow{
	{Id: "00111.000", Label: "MR ALICE CHECKING"},
	{Id: "00222.023.77", Label: "ALICE SARL SAVINGS"},
	{Id: "00111.999.securities", Label: "Securities portfolio"},
}

func TestFindAccount(t *testing.T) {
	testCases := []struct {
		query    string
		expected string
	}{
		{"00111.000", "00111.000"},
		{"00222.023.77", "00222.023.77"},
		{"mr alice checking", "00111.000"},
		{"alice sarl saving", "00222.023.77"},
		{"securities portfolo", "00111.999.securities"},
	}
	for _, test := range testCases {
		account, err := findAccount(testAccounts, test.query)
		require.NoError(t, err, test.query)
		require.Equal(t, test.expected, account.Id, test.query)
	}

	_, err := findAccount(testAccounts, "zzzz")
	require.Error(t, err)
	_, err = findAccount(nil, "00111.000")
	require.Error(t, err)
}
