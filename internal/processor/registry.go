package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/imageloom/internal/domain"
)

var ErrUnknownAction = errors.New("unknown step action")

// Factory builds a processor from a step spec. Invalid configuration is
// rejected here, before any identity is derived; a factory never returns a
// processor whose identity depends on anything but the step spec's fields.
type Factory func(spec domain.StepSpec) (Processor, error)

// Registry maps step actions to factories. It is an explicit dependency of
// whatever builds chains from requests; there is no package-level registry.
// Register all actions before handing the registry to concurrent users.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in actions registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("resize", buildResize)
	r.Register("crop", buildCrop)
	r.Register("grayscale", buildGrayscale)
	r.Register("blur", buildBlur)
	r.Register("sharpen", buildSharpen)
	r.Register("rotate", buildRotate)
	r.Register("flip", buildFlip)
	r.Register("brightness", buildBrightness)
	r.Register("contrast", buildContrast)
	r.Register("watermark", buildWatermark)
	return r
}

func (r *Registry) Register(action string, factory Factory) {
	r.factories[strings.ToLower(strings.TrimSpace(action))] = factory
}

// Build resolves each spec in order and assembles the resulting processors
// into a composite chain. An empty spec list yields the empty chain.
func (r *Registry) Build(specs []domain.StepSpec) (Composite, error) {
	procs := make([]Processor, 0, len(specs))
	for i, spec := range specs {
		action := strings.ToLower(strings.TrimSpace(spec.Action))
		factory, ok := r.factories[action]
		if !ok {
			return Composite{}, fmt.Errorf("steps[%d]: %w: %q", i, ErrUnknownAction, spec.Action)
		}
		p, err := factory(spec)
		if err != nil {
			return Composite{}, fmt.Errorf("steps[%d] action=%s: %w", i, action, err)
		}
		procs = append(procs, p)
	}
	return NewComposite(procs...), nil
}

func buildResize(spec domain.StepSpec) (Processor, error) {
	if spec.Width <= 0 && spec.Height <= 0 {
		return nil, errors.New("resize requires width or height > 0")
	}
	return Resize{Width: spec.Width, Height: spec.Height, Mode: spec.Mode}, nil
}

func buildCrop(spec domain.StepSpec) (Processor, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, errors.New("crop requires width and height > 0")
	}
	return Crop{Width: spec.Width, Height: spec.Height, Anchor: spec.Anchor}, nil
}

func buildGrayscale(domain.StepSpec) (Processor, error) {
	return Grayscale{}, nil
}

func buildBlur(spec domain.StepSpec) (Processor, error) {
	if spec.Sigma <= 0 {
		return nil, errors.New("blur requires sigma > 0")
	}
	return Blur{Radius: spec.Sigma}, nil
}

func buildSharpen(spec domain.StepSpec) (Processor, error) {
	return Sharpen{Radius: spec.Sigma, Amount: spec.Amount}, nil
}

func buildRotate(spec domain.StepSpec) (Processor, error) {
	return Rotate{Angle: spec.Angle}, nil
}

func buildFlip(spec domain.StepSpec) (Processor, error) {
	axis := strings.ToLower(strings.TrimSpace(spec.Mode))
	if axis != FlipAxisHorizontal && axis != FlipAxisVertical {
		return nil, fmt.Errorf("flip requires mode=%s or mode=%s", FlipAxisHorizontal, FlipAxisVertical)
	}
	return Flip{Axis: axis}, nil
}

func buildBrightness(spec domain.StepSpec) (Processor, error) {
	if spec.Amount < -1 || spec.Amount > 1 {
		return nil, errors.New("brightness requires amount in [-1, 1]")
	}
	return Brightness{Amount: spec.Amount}, nil
}

func buildContrast(spec domain.StepSpec) (Processor, error) {
	if spec.Amount < -1 || spec.Amount > 1 {
		return nil, errors.New("contrast requires amount in [-1, 1]")
	}
	return Contrast{Amount: spec.Amount}, nil
}

func buildWatermark(spec domain.StepSpec) (Processor, error) {
	wm, err := FromWatermarkSpec(spec.Watermark)
	if err != nil {
		return nil, err
	}
	return wm, nil
}
