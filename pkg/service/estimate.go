package service

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator approximates token counts. Its numbers are estimates and
// are never used for billing.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator counts one token per four characters, rounded up.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TiktokenEstimator uses the cl100k_base encoding and falls back to
// CharEstimator when the codec is unavailable.
type TiktokenEstimator struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

func (e *TiktokenEstimator) getCodec() (tokenizer.Codec, error) {
	e.once.Do(func() {
		e.codec, e.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return e.codec, e.err
}

func (e *TiktokenEstimator) Estimate(text string) int {
	c, err := e.getCodec()
	if err != nil {
		return CharEstimator{}.Estimate(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return CharEstimator{}.Estimate(text)
	}
	return len(ids)
}

// NewTokenEstimator returns the estimator named by the chat.token_estimator setting.
func NewTokenEstimator(name string) TokenEstimator {
	if name == "tiktoken" {
		return &TiktokenEstimator{}
	}
	return CharEstimator{}
}

// TokenUsage is an estimated token count for one exchange.
type TokenUsage struct {
	Input     int  `json:"input"`
	Output    int  `json:"output"`
	Total     int  `json:"total"`
	Estimated bool `json:"estimated"`
}
