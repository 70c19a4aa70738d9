package scriptlib

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/tvlab/screentest/internal/device"
)

// frameValue exposes a captured device frame to scripts as an opaque value
// with width/height/time attributes.
type frameValue struct {
	frame device.Frame
}

var _ starlark.HasAttrs = frameValue{}

func (v frameValue) String() string {
	b := v.frame.Image.Bounds()
	return fmt.Sprintf("<frame %dx%d>", b.Dx(), b.Dy())
}

func (v frameValue) Type() string          { return "frame" }
func (v frameValue) Freeze()               {}
func (v frameValue) Truth() starlark.Bool  { return starlark.Bool(v.frame.OK()) }
func (v frameValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: frame") }

func (v frameValue) Attr(name string) (starlark.Value, error) {
	b := v.frame.Image.Bounds()
	switch name {
	case "width":
		return starlark.MakeInt(b.Dx()), nil
	case "height":
		return starlark.MakeInt(b.Dy()), nil
	case "time":
		return starlark.Float(float64(v.frame.Time.UnixNano()) / 1e9), nil
	}
	return nil, nil
}

func (v frameValue) AttrNames() []string {
	return []string{"height", "time", "width"}
}
