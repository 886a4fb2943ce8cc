package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	OpResize       = "resize"
	OpResizeSquare = "resize_square"
	OpThumbnail    = "thumbnail"
	OpCrop         = "crop"
	OpBlur         = "blur"
	OpFastBlur     = "fast_blur"
	OpBrighten     = "brighten"
	OpContrast     = "contrast"
	OpGrayscale    = "grayscale"
	OpInvert       = "invert"
	OpHueRotate    = "hue_rotate"
)

var ErrInvalidOperation = errors.New("invalid operation")

// arity is the number of positional arguments each operation takes in the
// text form.
var arity = map[string]int{
	OpResize:       2,
	OpResizeSquare: 1,
	OpThumbnail:    2,
	OpCrop:         4,
	OpBlur:         1,
	OpFastBlur:     1,
	OpBrighten:     1,
	OpContrast:     1,
	OpGrayscale:    0,
	OpInvert:       0,
	OpHueRotate:    1,
}

// Operation describes one link of a processing chain. Only the fields the
// named operation uses are meaningful.
type Operation struct {
	Op      string  `json:"op"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	Side    int     `json:"side,omitempty"`
	X       int     `json:"x,omitempty"`
	Y       int     `json:"y,omitempty"`
	Sigma   float32 `json:"sigma,omitempty"`
	Value   float64 `json:"value,omitempty"`
	Degrees int     `json:"degrees,omitempty"`
}

func invalidOp(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// Name returns the normalized operation name.
func (o Operation) Name() string {
	return strings.ToLower(strings.TrimSpace(o.Op))
}

// Validate checks the arguments that can be judged without the image.
// Bounds that depend on the image size (crop rectangles) are left to the
// operation itself.
func (o Operation) Validate() error {
	name := o.Name()
	if _, ok := arity[name]; !ok {
		if name == "" {
			return invalidOp("op is required")
		}
		return invalidOp("unknown op %q", o.Op)
	}

	switch name {
	case OpResize, OpThumbnail:
		if o.Width <= 0 || o.Height <= 0 {
			return invalidOp("%s needs positive width and height, got %dx%d", name, o.Width, o.Height)
		}
	case OpResizeSquare:
		if o.Side <= 0 {
			return invalidOp("resize_square needs a positive side, got %d", o.Side)
		}
	case OpCrop:
		if o.X < 0 || o.Y < 0 || o.Width <= 0 || o.Height <= 0 {
			return invalidOp("crop needs a non-negative origin and positive size, got %dx%d+%d+%d", o.Width, o.Height, o.X, o.Y)
		}
	case OpBlur, OpFastBlur:
		if math.IsNaN(float64(o.Sigma)) || o.Sigma < 0 {
			return invalidOp("%s needs a non-negative sigma, got %g", name, o.Sigma)
		}
	case OpBrighten:
		if o.Value != math.Trunc(o.Value) {
			return invalidOp("brighten needs an integer value, got %g", o.Value)
		}
		if math.Abs(o.Value) > math.MaxInt32 {
			return invalidOp("brighten value %g is out of range", o.Value)
		}
	case OpContrast:
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return invalidOp("contrast needs a finite value")
		}
	}
	return nil
}

// String renders the operation in the compact text form accepted by
// ParseOperation.
func (o Operation) String() string {
	name := o.Name()
	var args []string
	switch name {
	case OpResize, OpThumbnail:
		args = []string{strconv.Itoa(o.Width), strconv.Itoa(o.Height)}
	case OpResizeSquare:
		args = []string{strconv.Itoa(o.Side)}
	case OpCrop:
		args = []string{strconv.Itoa(o.X), strconv.Itoa(o.Y), strconv.Itoa(o.Width), strconv.Itoa(o.Height)}
	case OpBlur, OpFastBlur:
		args = []string{strconv.FormatFloat(float64(o.Sigma), 'g', -1, 32)}
	case OpBrighten, OpContrast:
		args = []string{strconv.FormatFloat(o.Value, 'g', -1, 64)}
	case OpHueRotate:
		args = []string{strconv.Itoa(o.Degrees)}
	}
	if len(args) == 0 {
		return name
	}
	return name + ":" + strings.Join(args, ",")
}

// ParseOperation reads the compact text form name[:arg,arg...], for example
// "resize:512,512", "blur:1.5" or "grayscale".
func ParseOperation(text string) (Operation, error) {
	name, rawArgs, _ := strings.Cut(strings.TrimSpace(text), ":")
	op := Operation{Op: strings.ToLower(strings.TrimSpace(name))}

	want, ok := arity[op.Op]
	if !ok {
		if op.Op == "" {
			return Operation{}, invalidOp("op is required")
		}
		return Operation{}, invalidOp("unknown op %q", name)
	}

	var args []string
	if strings.TrimSpace(rawArgs) != "" {
		args = strings.Split(rawArgs, ",")
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}
	if len(args) != want {
		return Operation{}, invalidOp("%s takes %d argument(s), got %d", op.Op, want, len(args))
	}

	ints := func() ([]int, error) {
		out := make([]int, len(args))
		for i, a := range args {
			v, err := strconv.Atoi(a)
			if err != nil {
				return nil, invalidOp("%s argument %d: %q is not an integer", op.Op, i+1, a)
			}
			out[i] = v
		}
		return out, nil
	}
	float := func(bits int) (float64, error) {
		v, err := strconv.ParseFloat(args[0], bits)
		if err != nil {
			return 0, invalidOp("%s argument: %q is not a number", op.Op, args[0])
		}
		return v, nil
	}

	switch op.Op {
	case OpResize, OpThumbnail:
		v, err := ints()
		if err != nil {
			return Operation{}, err
		}
		op.Width, op.Height = v[0], v[1]
	case OpResizeSquare:
		v, err := ints()
		if err != nil {
			return Operation{}, err
		}
		op.Side = v[0]
	case OpCrop:
		v, err := ints()
		if err != nil {
			return Operation{}, err
		}
		op.X, op.Y, op.Width, op.Height = v[0], v[1], v[2], v[3]
	case OpBlur, OpFastBlur:
		v, err := float(32)
		if err != nil {
			return Operation{}, err
		}
		op.Sigma = float32(v)
	case OpBrighten:
		v, err := ints()
		if err != nil {
			return Operation{}, err
		}
		op.Value = float64(v[0])
	case OpContrast:
		v, err := float(64)
		if err != nil {
			return Operation{}, err
		}
		op.Value = v
	case OpHueRotate:
		v, err := ints()
		if err != nil {
			return Operation{}, err
		}
		op.Degrees = v[0]
	}

	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// ParseOperations parses each element with ParseOperation.
func ParseOperations(texts []string) ([]Operation, error) {
	out := make([]Operation, 0, len(texts))
	for i, text := range texts {
		op, err := ParseOperation(text)
		if err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		out = append(out, op)
	}
	return out, nil
}
