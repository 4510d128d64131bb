package commands

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// minSimilarity is the lowest Jaro-Winkler similarity accepted for a fuzzy
// account match.
const minSimilarity = 0.75

// findAccount resolves what the user typed to an account: an exact id
// first, then the account whose label or id is the most similar.
func findAccount(accounts []accountRow, query string) (accountRow, error) {
	for _, account := range accounts {
		if strings.EqualFold(account.Id, query) {
			return account, nil
		}
	}

	query = strings.ToLower(query)
	var best accountRow
	var bestSimilarity float64
	for _, account := range accounts {
		for _, candidate := range []string{account.Id, account.Label} {
			similarity := matchr.JaroWinkler(query, strings.ToLower(candidate), false)
			if similarity > bestSimilarity {
				bestSimilarity = similarity
				best = account
			}
		}
	}
	if bestSimilarity < minSimilarity {
		return accountRow{}, fmt.Errorf("no account looks like %q", query)
	}
	return best, nil
}
