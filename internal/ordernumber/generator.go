// Package ordernumber stamps human-readable order numbers of the form PREFIX-YYYYMMDD-NNNN.
package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/config"
)

// Module provides the Generator. A Sequence implementation must be supplied elsewhere in the graph.
var Module = fx.Provide(NewFromConfig)

const dayLayout = "20060102"

// ErrMalformed is returned by Parse for strings that are not order numbers.
var ErrMalformed = errors.New("ordernumber: malformed order number")

// Sequence hands out strictly increasing values per day. Implementations must be atomic
// across concurrent callers.
type Sequence interface {
	Next(ctx context.Context, day string) (int64, error)
}

// Number is a parsed order number.
type Number struct {
	Prefix string
	Day    time.Time
	Seq    int64
}

// Generator formats numbers from a Sequence.
type Generator struct {
	prefix string
	loc    *time.Location
	seq    Sequence
}

// New returns a Generator. A nil location means UTC.
func New(prefix string, loc *time.Location, seq Sequence) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{prefix: strings.ToUpper(strings.TrimSpace(prefix)), loc: loc, seq: seq}
}

// Params wires configuration and the storage-backed sequence.
type Params struct {
	fx.In

	Config   config.Config
	Sequence Sequence
}

// NewFromConfig builds a Generator in the store's timezone.
func NewFromConfig(p Params) (*Generator, error) {
	loc, err := time.LoadLocation(p.Config.Store.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load store timezone: %w", err)
	}
	return New(p.Config.Store.OrderPrefix, loc, p.Sequence), nil
}

// Next draws the next number for the calendar day of now in the store timezone.
func (g *Generator) Next(ctx context.Context, now time.Time) (string, error) {
	local := now.In(g.loc)
	seq, err := g.seq.Next(ctx, local.Format(dayLayout))
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return Format(g.prefix, local, seq), nil
}

// Format renders an order number; the sequence is zero padded to at least four digits.
func Format(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format(dayLayout), seq)
}

// Parse splits an order number into its parts.
func Parse(number string) (Number, error) {
	parts := strings.Split(strings.TrimSpace(number), "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != len(dayLayout) || len(parts[2]) < 4 {
		return Number{}, ErrMalformed
	}
	day, err := time.Parse(dayLayout, parts[1])
	if err != nil {
		return Number{}, ErrMalformed
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return Number{}, ErrMalformed
	}
	return Number{Prefix: parts[0], Day: day, Seq: seq}, nil
}

// IsOrderNumber reports whether s parses as an order number.
func IsOrderNumber(s string) bool {
	_, err := Parse(s)
	return err == nil
}
