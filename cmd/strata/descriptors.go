package main

import (
	"fmt"
	"os"

	"github.com/ajitpratap0/strata/pkg/schema"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// modelFlags locate one message type and its annotations.
type modelFlags struct {
	descriptors string
	annotations string
	message     string
}

// chainResolver resolves against the set being loaded, then the linked-in
// global registry, so sets built without --include_imports still resolve
// well-known types.
type chainResolver struct {
	local *protoregistry.Files
}

func (r chainResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r chainResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}

// loadDescriptorSet reads a serialized FileDescriptorSet, as written by
// protoc --descriptor_set_out or buf build -o.
func loadDescriptorSet(path string) (*protoregistry.Files, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor set: %w", err)
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor set %s: %w", path, err)
	}

	files := new(protoregistry.Files)
	resolver := chainResolver{local: files}
	for _, fdp := range set.GetFile() {
		if global, err := protoregistry.GlobalFiles.FindFileByPath(fdp.GetName()); err == nil {
			if err := files.RegisterFile(global); err != nil {
				return nil, fmt.Errorf("register %s: %w", fdp.GetName(), err)
			}
			continue
		}
		fd, err := protodesc.NewFile(fdp, resolver)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", fdp.GetName(), err)
		}
		if err := files.RegisterFile(fd); err != nil {
			return nil, fmt.Errorf("register %s: %w", fdp.GetName(), err)
		}
	}
	return files, nil
}

// resolveModel loads the descriptors and annotations named by flags and
// returns the requested message with a resolver over the annotations.
func resolveModel(flags *modelFlags) (protoreflect.MessageDescriptor, *schema.Metadata, error) {
	if flags.descriptors == "" || flags.message == "" {
		return nil, nil, fmt.Errorf("--descriptors and --message are required")
	}
	files, err := loadDescriptorSet(flags.descriptors)
	if err != nil {
		return nil, nil, err
	}
	d, err := files.FindDescriptorByName(protoreflect.FullName(flags.message))
	if err != nil {
		return nil, nil, fmt.Errorf("message %s not found in %s", flags.message, flags.descriptors)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, nil, fmt.Errorf("%s is not a message", flags.message)
	}

	ann := schema.NewAnnotations()
	if flags.annotations != "" {
		if ann, err = schema.LoadAnnotations(flags.annotations); err != nil {
			return nil, nil, err
		}
	}
	return md, schema.New(ann), nil
}
