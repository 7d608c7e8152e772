package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_WellFormed(t *testing.T) {
	q := Select{
		From:  "screens",
		Alias: "t0",
		Key:   "t0.id",
		Joins: []Join{
			{Table: "audience_types", Alias: "j1", From: "t0.id", Column: "screen_id"},
		},
		Filter: And{Predicates: []Predicate{
			Equals{Field: "t0.status", Value: "ACTIVE"},
			In{Field: "j1.id", Values: []any{int64(1), int64(2)}},
		}},
		Order: []Order{{Field: "t0.id", Desc: true}},
	}

	res := Validate(q)
	assert.True(t, res.OK(), "errors: %v", res.Errors)
	assert.NoError(t, res.Err())
}

func TestValidate_Problems(t *testing.T) {
	testCases := []struct {
		name    string
		query   Select
		wantMsg string
	}{
		{
			name:    "missing table",
			query:   Select{Alias: "t0"},
			wantMsg: "missing root table",
		},
		{
			name:    "unqualified field",
			query:   Select{From: "a", Alias: "t0", Filter: Equals{Field: "status", Value: 1}},
			wantMsg: `field "status" is not qualified`,
		},
		{
			name:    "unknown alias",
			query:   Select{From: "a", Alias: "t0", Order: []Order{{Field: "j9.id"}}},
			wantMsg: `unknown alias "j9"`,
		},
		{
			name: "duplicate alias",
			query: Select{From: "a", Alias: "t0", Joins: []Join{
				{Table: "b", Alias: "j1", From: "t0.id", Column: "a_id"},
				{Table: "c", Alias: "j1", From: "t0.id", Column: "a_id"},
			}},
			wantMsg: `alias "j1" declared twice`,
		},
		{
			name:    "join before alias declared",
			query:   Select{From: "a", Alias: "t0", Joins: []Join{{Table: "b", Alias: "j1", From: "j2.id", Column: "x"}}},
			wantMsg: `unknown alias "j2"`,
		},
		{
			name:    "empty in",
			query:   Select{From: "a", Alias: "t0", Filter: In{Field: "t0.id"}},
			wantMsg: "empty value set",
		},
		{
			name:    "negative limit",
			query:   Select{From: "a", Alias: "t0", Limit: -1},
			wantMsg: "negative limit",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.query)
			require.False(t, res.OK())
			assert.Contains(t, res.Err().Error(), tc.wantMsg)
		})
	}
}

func TestConjoin(t *testing.T) {
	a := Equals{Field: "t0.a", Value: 1}
	b := Equals{Field: "t0.b", Value: 2}
	c := Equals{Field: "t0.c", Value: 3}

	assert.Nil(t, Conjoin())
	assert.Nil(t, Conjoin(nil, nil))
	assert.Equal(t, a, Conjoin(nil, a))
	assert.Equal(t, And{Predicates: []Predicate{a, b, c}}, Conjoin(a, And{Predicates: []Predicate{b, c}}))
}
