package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names understood by the transformation endpoint.
const (
	ParamWidth  = "w"
	ParamHeight = "h"
	ParamFormat = "format"
	ParamRotate = "rot"
	ParamFlip   = "flip"

	FormatSquare = "square"
)

type FlipMode string

const (
	FlipNone       FlipMode = ""
	FlipHorizontal FlipMode = "h"
	FlipVertical   FlipMode = "v"
	FlipBoth       FlipMode = "hv"
)

func (m FlipMode) Valid() bool {
	switch m {
	case FlipNone, FlipHorizontal, FlipVertical, FlipBoth:
		return true
	default:
		return false
	}
}

// TransformRequest is the normalized parameter set for one derivative.
// Nil pointers mean "not specified"; a request with nothing set asks for
// the untouched source image.
type TransformRequest struct {
	Width  *int
	Height *int
	Square bool
	Rotate *int
	Flip   FlipMode
}

func (r TransformRequest) IsEmpty() bool {
	return r.Width == nil && r.Height == nil && !r.Square && r.Rotate == nil && r.Flip == FlipNone
}

// Fields returns the set fields keyed by query parameter name, with values
// in their canonical string form. Unset fields are absent.
func (r TransformRequest) Fields() map[string]string {
	fields := make(map[string]string, 5)
	if r.Width != nil {
		fields[ParamWidth] = strconv.Itoa(*r.Width)
	}
	if r.Height != nil {
		fields[ParamHeight] = strconv.Itoa(*r.Height)
	}
	if r.Square {
		fields[ParamFormat] = FormatSquare
	}
	if r.Rotate != nil {
		fields[ParamRotate] = strconv.Itoa(*r.Rotate)
	}
	if r.Flip != FlipNone {
		fields[ParamFlip] = string(r.Flip)
	}
	return fields
}

// Values renders the request back into query values that parse to an equal
// request.
func (r TransformRequest) Values() url.Values {
	values := url.Values{}
	for k, v := range r.Fields() {
		values.Set(k, v)
	}
	return values
}

func (r TransformRequest) String() string {
	if r.IsEmpty() {
		return "original"
	}
	return r.Values().Encode()
}

// ParseTransformRequest normalizes raw query parameters. Empty values count
// as absent and unknown keys are ignored.
func ParseTransformRequest(values url.Values) (TransformRequest, error) {
	var (
		req TransformRequest
		err error
	)

	if req.Width, err = parseIntParam(values, ParamWidth); err != nil {
		return TransformRequest{}, err
	}
	if req.Height, err = parseIntParam(values, ParamHeight); err != nil {
		return TransformRequest{}, err
	}
	if req.Rotate, err = parseIntParam(values, ParamRotate); err != nil {
		return TransformRequest{}, err
	}

	req.Square = strings.TrimSpace(values.Get(ParamFormat)) == FormatSquare

	flip := FlipMode(strings.TrimSpace(values.Get(ParamFlip)))
	if !flip.Valid() {
		return TransformRequest{}, fmt.Errorf("%w: %s=%q must be one of h, v, hv", ErrInvalidParameter, ParamFlip, flip)
	}
	req.Flip = flip

	return req, nil
}

func parseIntParam(values url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidParameter, name, raw)
	}
	return &n, nil
}

// Variant is one entry of a warm request: raw transformation parameters as
// they would appear in a query string.
type Variant map[string]string

func (v Variant) Values() url.Values {
	values := url.Values{}
	for k, val := range v {
		values.Set(k, val)
	}
	return values
}

type WarmRequest struct {
	Variants   []Variant `json:"variants"`
	WebhookURL string    `json:"webhook_url,omitempty"`
}

func (r WarmRequest) Validate() error {
	if len(r.Variants) == 0 {
		return fmt.Errorf("%w: variants must contain at least one entry", ErrInvalidParameter)
	}
	for i, variant := range r.Variants {
		req, err := ParseTransformRequest(variant.Values())
		if err != nil {
			return fmt.Errorf("variants[%d]: %w", i, err)
		}
		if req.IsEmpty() {
			return fmt.Errorf("%w: variants[%d] has no transformation", ErrInvalidParameter, i)
		}
	}
	return nil
}
