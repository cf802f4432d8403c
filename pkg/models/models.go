package models

import "fmt"

// Sample is a single image-caption pair from the annotation files. Falsified
// samples pair an image with a caption taken from a different article.
type Sample struct {
	Id      int64  `json:"id"`
	ImageId int64  `json:"image_id"`
	Source  string `json:"source"`
	Topic   string `json:"topic"`
	Split   string `json:"split"`

	Caption   string `json:"caption"`
	ImagePath string `json:"image_path"`

	Falsified       bool    `json:"falsified"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Key returns the stable identifier used to name the sample's members inside
// a shard. Keys are unique within a split.
func (s *Sample) Key() string {
	return fmt.Sprintf("%s_%d", s.Source, s.Id)
}

// Metadata is the sidecar record written next to each image and caption in a
// shard. It carries everything needed to trace a sample back to its source.
type Metadata struct {
	Id              int64   `json:"id"`
	ImageId         int64   `json:"image_id"`
	Source          string  `json:"source"`
	Topic           string  `json:"topic"`
	Split           string  `json:"split"`
	Falsified       bool    `json:"falsified"`
	SimilarityScore float64 `json:"similarity_score"`
}

func (s *Sample) Metadata() Metadata {
	return Metadata{
		Id:              s.Id,
		ImageId:         s.ImageId,
		Source:          s.Source,
		Topic:           s.Topic,
		Split:           s.Split,
		Falsified:       s.Falsified,
		SimilarityScore: s.SimilarityScore,
	}
}
