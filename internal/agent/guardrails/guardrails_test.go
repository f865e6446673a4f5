package guardrails

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTerms(t *testing.T) {
	b := NewBlockTerms("Password", " drop table ", "")

	assert.NoError(t, b.Validate("show me open problems"))

	err := b.Validate("what is the admin PASSWORD for prod?")
	require.Error(t, err)
	assert.Equal(t, "Contains blocked term: password", err.Error())
	assert.True(t, errors.Is(err, ErrBlocked))

	var blocked *BlockedTermError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "password", blocked.Term)

	assert.Equal(t, []string{"password", "drop table"}, b.Terms())
}

func TestBlockTermsReportsFirstConfiguredTerm(t *testing.T) {
	b := NewBlockTerms("secret", "token")
	err := b.Validate("token and secret")
	require.Error(t, err)
	assert.Equal(t, "Contains blocked term: secret", err.Error())
}

func TestBlockTermsSetTerms(t *testing.T) {
	b := NewBlockTerms("secret")
	b.SetTerms(nil)
	assert.NoError(t, b.Validate("secret"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.SetTerms([]string{"token"})
		}()
		go func() {
			defer wg.Done()
			_ = b.Validate("a token")
		}()
	}
	wg.Wait()
	assert.Error(t, b.Validate("a token"))
}

func TestChain(t *testing.T) {
	c := Chain{nil, NewBlockTerms("foo"), NewBlockTerms("bar")}
	assert.NoError(t, c.Validate("baz"))
	assert.EqualError(t, c.Validate("bar foo"), "Contains blocked term: foo")
}
