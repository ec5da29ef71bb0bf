package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultLocalDimension = 256

type localConfig struct {
	Dimension int `json:"dimension"`
}

// localProvider embeds text offline by hashing word features into a fixed
// number of buckets. It has no generation capability.
type localProvider struct {
	dim int
}

func (p *localProvider) Name() string {
	return "local"
}

func (p *localProvider) embedOnly() {}

func (p *localProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	return "", ErrUnavailable
}

func (p *localProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	vec := make([]float32, p.dim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%p.dim] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func createLocalFactory(args interface{}) (IProvider, error) {
	cfg := &localConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultLocalDimension
	}
	return &localProvider{dim: cfg.Dimension}, nil
}

func init() {
	Register("local", createLocalFactory)
}
