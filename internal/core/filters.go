package core

import (
	"fmt"
	"strings"

	"newsclip-backend/pkg/models"
)

type Filter interface {
	Matches(sample *models.Sample) bool
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(sample *models.Sample) bool {
	for _, filter := range f.filters {
		if !filter.Matches(sample) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(sample *models.Sample) bool {
	for _, filter := range f.filters {
		if filter.Matches(sample) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(sample *models.Sample) bool {
	return !f.filter.Matches(sample)
}

func stringField(sample *models.Sample, field string) string {
	switch field {
	case "source":
		return sample.Source
	case "topic":
		return sample.Topic
	case "split":
		return sample.Split
	case "caption":
		return sample.Caption
	case "key":
		return sample.Key()
	}
	return ""
}

func numericField(sample *models.Sample, field string) float64 {
	switch field {
	case "similarity_score":
		return sample.SimilarityScore
	case "id":
		return float64(sample.Id)
	case "image_id":
		return float64(sample.ImageId)
	}
	return 0
}

func isStringField(field string) bool {
	switch field {
	case "source", "topic", "split", "caption", "key":
		return true
	}
	return false
}

func isNumericField(field string) bool {
	switch field {
	case "similarity_score", "id", "image_id":
		return true
	}
	return false
}

func validateField(field string) error {
	if !isStringField(field) && !isNumericField(field) && field != "falsified" {
		return fmt.Errorf("unknown field %s", field)
	}
	return nil
}

type SubstringFilter struct {
	field  string
	substr string
}

func (f *SubstringFilter) Matches(sample *models.Sample) bool {
	return strings.Contains(stringField(sample, f.field), f.substr)
}

type StringEqFilter struct {
	field string
	value string
}

func (f *StringEqFilter) Matches(sample *models.Sample) bool {
	return stringField(sample, f.field) == f.value
}

type StringLtFilter struct {
	field string
	value string
}

func (f *StringLtFilter) Matches(sample *models.Sample) bool {
	return stringField(sample, f.field) < f.value
}

type StringGtFilter struct {
	field string
	value string
}

func (f *StringGtFilter) Matches(sample *models.Sample) bool {
	return stringField(sample, f.field) > f.value
}

type NumericLtFilter struct {
	field string
	value float64
}

func (f *NumericLtFilter) Matches(sample *models.Sample) bool {
	return numericField(sample, f.field) < f.value
}

type NumericGtFilter struct {
	field string
	value float64
}

func (f *NumericGtFilter) Matches(sample *models.Sample) bool {
	return numericField(sample, f.field) > f.value
}

type NumericEqFilter struct {
	field string
	value float64
}

func (f *NumericEqFilter) Matches(sample *models.Sample) bool {
	return numericField(sample, f.field) == f.value
}

type BoolEqFilter struct {
	field string
	value bool
}

func (f *BoolEqFilter) Matches(sample *models.Sample) bool {
	return sample.Falsified == f.value
}
