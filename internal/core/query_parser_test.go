package core

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"newsclip-backend/pkg/models"
)

func TestParseQuery_SimpleFilter(t *testing.T) {
	query := `caption CONTAINS "election"`
	expected := &SubstringFilter{field: "caption", substr: "election"}

	filter, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("expected %v, got %v", expected, filter)
	}
}

func TestParseQuery_AndExpression(t *testing.T) {
	query := `caption CONTAINS "election" AND source = "washington_post"`
	expected := &AndFilter{
		filters: []Filter{
			&SubstringFilter{field: "caption", substr: "election"},
			&StringEqFilter{field: "source", value: "washington_post"},
		},
	}

	filter, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("expected %v, got %v", expected, filter)
	}
}

func TestParseQuery_OrExpression(t *testing.T) {
	query := `topic = "politics" OR topic = "world"`
	expected := &OrFilter{
		filters: []Filter{
			&StringEqFilter{field: "topic", value: "politics"},
			&StringEqFilter{field: "topic", value: "world"},
		},
	}

	filter, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("expected %v, got %v", expected, filter)
	}
}

func TestParseQuery_NotExpression(t *testing.T) {
	query := `NOT caption CONTAINS "sports"`
	expected := &NotFilter{
		filter: &SubstringFilter{field: "caption", substr: "sports"},
	}

	filter, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("expected %v, got %v", expected, filter)
	}
}

func TestParseQuery_ComplexExpression(t *testing.T) {
	query := `falsified = true AND (similarity_score > 0.5 OR NOT source = "bbc")`
	expected := &AndFilter{
		filters: []Filter{
			&BoolEqFilter{field: "falsified", value: true},
			&OrFilter{
				filters: []Filter{
					&NumericGtFilter{field: "similarity_score", value: 0.5},
					&NotFilter{filter: &StringEqFilter{field: "source", value: "bbc"}},
				},
			},
		},
	}

	filter, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("expected %v, got %v", expected, filter)
	}
}

func TestParseQuery_Invalid(t *testing.T) {
	for _, query := range []string{
		`caption CONTAINS`,
		`nonsense = "x"`,
		`similarity_score CONTAINS "x"`,
		`falsified > true`,
		`source = 7`,
	} {
		_, err := ParseQuery(query)
		assert.Error(t, err, "query %q should not parse", query)
	}
}

func TestFilterMatching(t *testing.T) {
	sample := models.Sample{
		Id:              101,
		ImageId:         400,
		Source:          "washington_post",
		Topic:           "politics",
		Split:           "train",
		Caption:         "The president spoke on Tuesday.",
		Falsified:       true,
		SimilarityScore: 0.73,
	}

	cases := []struct {
		query string
		match bool
	}{
		{`source = "washington_post"`, true},
		{`source = "bbc"`, false},
		{`caption CONTAINS "president"`, true},
		{`caption CONTAINS "minister"`, false},
		{`key CONTAINS "washington_post_101"`, true},
		{`similarity_score > 0.7`, true},
		{`similarity_score < 0.7`, false},
		{`similarity_score > 0.7 AND falsified = true`, true},
		{`falsified = false`, false},
		{`id = 101`, true},
		{`image_id > 500`, false},
		{`NOT topic = "sports"`, true},
		{`topic = "sports" OR split = "train"`, true},
	}

	for _, tc := range cases {
		filter, err := ParseQuery(tc.query)
		if err != nil {
			t.Fatalf("unexpected error parsing %q: %v", tc.query, err)
		}
		assert.Equal(t, tc.match, filter.Matches(&sample), "query: %s", tc.query)
	}
}
