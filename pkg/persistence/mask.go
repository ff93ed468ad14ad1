package persistence

import (
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.einride.tech/aip/fieldmask"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ApplyMask rebuilds instance according to the field mask in opts. Without a
// non-empty mask the instance is returned unchanged. Message containers are
// always kept so nested leaves can be reached; only leaves are filtered.
// Leaves named in the mask get the mask mode and all other leaves get its
// complement.
func ApplyMask[M proto.Message](instance M, opts FetchOptions) (M, error) {
	if !opts.HasMask() || !schema.Present(instance) {
		return instance, nil
	}
	if err := fieldmask.Validate(opts.Mask, instance); err != nil {
		var zero M
		return zero, errors.Wrap(err, errors.ErrorTypeValidation, "invalid field mask")
	}

	mode := opts.MaskMode
	if mode == "" {
		mode = MaskInclude
	}
	marked := make(map[string]bool, len(opts.Mask.GetPaths()))
	for _, p := range opts.Mask.GetPaths() {
		marked[p] = true
	}

	source := proto.Clone(instance).ProtoReflect()
	target := source.New()
	applyFields(target, source, marked, mode, "")
	return target.Interface().(M), nil
}

func applyFields(target, source protoreflect.Message, marked map[string]bool, mode MaskMode, prefix string) {
	source.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		path := string(fd.Name())
		if prefix != "" {
			path = prefix + "." + path
		}
		container := fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap()

		effect := MaskInclude
		if mode == MaskInclude {
			effect = MaskExclude
		}
		switch {
		case container:
			effect = MaskInclude
		case marked[path]:
			effect = mode
		}

		if effect == MaskExclude {
			return true
		}
		if container {
			applyFields(target.Mutable(fd).Message(), v.Message(), marked, mode, path)
			return true
		}
		target.Set(fd, v)
		return true
	})
}
