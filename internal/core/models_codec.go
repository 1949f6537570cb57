package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	SizeKindPercentage   = "percentage"
	RiskKindTrailingStop = "trailing-stop"
)

// SizeModel is the tagged union describing how large a signal's trade is.
type SizeModel interface {
	SizeKind() string
}

// PercentageOfBalance sizes a trade as a percent of the deployment's capital.
type PercentageOfBalance struct {
	Percent float64
}

func (PercentageOfBalance) SizeKind() string { return SizeKindPercentage }

func (p PercentageOfBalance) MarshalJSON() ([]byte, error) {
	return json.Marshal(sizeEnvelope{Type: SizeKindPercentage, Value: &p.Percent})
}

// RiskModel is the tagged union describing exit parameters attached to a signal.
// A nil RiskModel means no risk template.
type RiskModel interface {
	RiskKind() string
}

// TrailingStop trails the best price by Stop (a fraction). TakeProfit is a fraction, zero for none.
type TrailingStop struct {
	Stop       float64
	TakeProfit float64
}

func (TrailingStop) RiskKind() string { return RiskKindTrailingStop }

func (t TrailingStop) MarshalJSON() ([]byte, error) {
	return json.Marshal(riskEnvelope{Type: RiskKindTrailingStop, Stop: &t.Stop, TakeProfit: t.TakeProfit})
}

type sizeEnvelope struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value"`
}

type riskEnvelope struct {
	Type       string   `json:"type"`
	Stop       *float64 `json:"stop"`
	TakeProfit float64  `json:"take_profit,omitempty"`
}

// EncodeSizeModel serialises a size model for storage
func EncodeSizeModel(m SizeModel) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("size model is required")
	}
	return json.Marshal(m)
}

// DecodeSizeModel parses a stored size model, rejecting unknown variants
func DecodeSizeModel(data []byte) (SizeModel, error) {
	var env sizeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode size model: %w", err)
	}
	switch env.Type {
	case SizeKindPercentage:
		if env.Value == nil {
			return nil, fmt.Errorf("decode size model: percentage value missing")
		}
		if *env.Value < 0 || *env.Value > 100 {
			return nil, fmt.Errorf("decode size model: percentage %.4f out of range", *env.Value)
		}
		return PercentageOfBalance{Percent: *env.Value}, nil
	default:
		return nil, fmt.Errorf("decode size model: unknown type %q", env.Type)
	}
}

// EncodeRiskModel serialises a risk model; nil encodes as JSON null
func EncodeRiskModel(m RiskModel) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// DecodeRiskModel parses a stored risk model. Empty input and null decode to nil.
func DecodeRiskModel(data []byte) (RiskModel, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var env riskEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode risk model: %w", err)
	}
	switch env.Type {
	case RiskKindTrailingStop:
		if env.Stop == nil || *env.Stop <= 0 || *env.Stop >= 1 {
			return nil, fmt.Errorf("decode risk model: trailing stop must be in (0,1)")
		}
		if env.TakeProfit < 0 {
			return nil, fmt.Errorf("decode risk model: negative take profit")
		}
		return TrailingStop{Stop: *env.Stop, TakeProfit: env.TakeProfit}, nil
	default:
		return nil, fmt.Errorf("decode risk model: unknown type %q", env.Type)
	}
}

// SizePercent returns the percentage carried by a size model, or 0 for unknown variants
func SizePercent(m SizeModel) float64 {
	if p, ok := m.(PercentageOfBalance); ok {
		return p.Percent
	}
	return 0
}

// UnmarshalJSON decodes the size and risk unions through their codecs
func (s *Signal) UnmarshalJSON(data []byte) error {
	type plain Signal
	aux := struct {
		*plain
		Size json.RawMessage `json:"size_model"`
		Risk json.RawMessage `json:"risk_model"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Size = nil
	if len(bytes.TrimSpace(aux.Size)) > 0 && !bytes.Equal(bytes.TrimSpace(aux.Size), []byte("null")) {
		size, err := DecodeSizeModel(aux.Size)
		if err != nil {
			return err
		}
		s.Size = size
	}
	risk, err := DecodeRiskModel(aux.Risk)
	if err != nil {
		return err
	}
	s.Risk = risk
	return nil
}
