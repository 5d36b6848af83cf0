package server

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoprint"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The protobuf schema of the exec service is derived from the message
// structs: field numbers are the CBOR integer keys, so the CBOR, protobuf
// and JSON encodings of a message agree on its shape.

const (
	protoPackage = "mettajit.v1"
	protoFile    = "mettajit/v1/exec.proto"
)

type methodTypes struct {
	name     string
	req, res reflect.Type
}

var serviceMethods = []methodTypes{
	{"Run", reflect.TypeOf(RunRequest{}), reflect.TypeOf(RunResponse{})},
	{"Compile", reflect.TypeOf(CompileRequest{}), reflect.TypeOf(CompileResponse{})},
	{"Stats", reflect.TypeOf(StatsRequest{}), reflect.TypeOf(StatsResponse{})},
	{"Disassemble", reflect.TypeOf(DisassembleRequest{}), reflect.TypeOf(DisassembleResponse{})},
}

type schema struct {
	fdp      *descriptorpb.FileDescriptorProto
	file     protoreflect.FileDescriptor
	messages map[reflect.Type]protoreflect.MessageDescriptor
}

var execSchema = mustBuildSchema()

func mustBuildSchema() *schema {
	s, err := buildSchema()
	if err != nil {
		panic("server: exec schema: " + err.Error())
	}
	return s
}

func buildSchema() (*schema, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
	}
	seen := map[reflect.Type]bool{}
	var order []reflect.Type
	var walk func(t reflect.Type) error
	walk = func(t reflect.Type) error {
		if seen[t] {
			return nil
		}
		seen[t] = true
		order = append(order, t)
		mdp, nested, err := messageProto(t)
		if err != nil {
			return err
		}
		fdp.MessageType = append(fdp.MessageType, mdp)
		for _, n := range nested {
			if err := walk(n); err != nil {
				return err
			}
		}
		return nil
	}

	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("ExecService")}
	for _, m := range serviceMethods {
		if err := walk(m.req); err != nil {
			return nil, err
		}
		if err := walk(m.res); err != nil {
			return nil, err
		}
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(qualified(m.req)),
			OutputType: proto.String(qualified(m.res)),
		})
	}
	fdp.Service = []*descriptorpb.ServiceDescriptorProto{svc}

	file, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, err
	}
	s := &schema{fdp: fdp, file: file, messages: map[reflect.Type]protoreflect.MessageDescriptor{}}
	for _, t := range order {
		md := file.Messages().ByName(protoreflect.Name(t.Name()))
		if md == nil {
			return nil, fmt.Errorf("message %s missing from descriptor", t.Name())
		}
		s.messages[t] = md
	}
	return s, nil
}

func qualified(t reflect.Type) string { return "." + protoPackage + "." + t.Name() }

// messageProto describes struct type t and returns the struct types its
// fields refer to.
func messageProto(t reflect.Type) (*descriptorpb.DescriptorProto, []reflect.Type, error) {
	mdp := &descriptorpb.DescriptorProto{Name: proto.String(t.Name())}
	var nested []reflect.Type
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		num, ok := fieldNumber(f)
		if !ok {
			continue
		}
		fd := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(snakeCase(f.Name)),
			Number: proto.Int32(num),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}
		ft := f.Type
		if ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8 {
			fd.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			ft = ft.Elem()
		}
		typ, err := scalarType(ft)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", t.Name(), f.Name, err)
		}
		fd.Type = typ.Enum()
		if typ == descriptorpb.FieldDescriptorProto_TYPE_MESSAGE {
			fd.TypeName = proto.String(qualified(ft))
			nested = append(nested, ft)
		}
		mdp.Field = append(mdp.Field, fd)
	}
	return mdp, nested, nil
}

func scalarType(t reflect.Type) (descriptorpb.FieldDescriptorProto_Type, error) {
	switch t.Kind() {
	case reflect.String:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING, nil
	case reflect.Bool:
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL, nil
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return descriptorpb.FieldDescriptorProto_TYPE_INT32, nil
	case reflect.Int, reflect.Int64:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64, nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT32, nil
	case reflect.Uint, reflect.Uint64:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT64, nil
	case reflect.Float64:
		return descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil
		}
	case reflect.Struct:
		return descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, nil
	}
	return 0, fmt.Errorf("unsupported field type %s", t)
}

func fieldNumber(f reflect.StructField) (int32, bool) {
	tag, _, _ := strings.Cut(f.Tag.Get("cbor"), ",")
	n, err := strconv.ParseInt(tag, 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	return int32(n), true
}

// snakeCase turns a Go field name into a proto field name: ChunkID becomes
// chunk_id and VMRuns becomes vm_runs.
func snakeCase(name string) string {
	rs := []rune(name)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) && i > 0 {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Schema renders the exec service as .proto source.
func Schema() (string, error) {
	fd, err := desc.CreateFileDescriptor(execSchema.fdp)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	p := &protoprint.Printer{Compact: true}
	if err := p.PrintProtoFile(fd, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// MessageDescriptor returns the protobuf descriptor of a message struct.
func MessageDescriptor(msg any) (protoreflect.MessageDescriptor, error) {
	t := reflect.TypeOf(msg)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	md, ok := execSchema.messages[t]
	if !ok {
		return nil, fmt.Errorf("server: %T is not an exec service message", msg)
	}
	return md, nil
}

// toDynamic copies a message struct into a dynamic protobuf message.
func toDynamic(msg any) (*dynamicpb.Message, error) {
	md, err := MessageDescriptor(msg)
	if err != nil {
		return nil, err
	}
	v := reflect.Indirect(reflect.ValueOf(msg))
	m := dynamicpb.NewMessage(md)
	structToMessage(v, m)
	return m, nil
}

// fromDynamic copies m into the struct msg points to.
func fromDynamic(m protoreflect.Message, msg any) error {
	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("server: cannot decode into %T", msg)
	}
	v = v.Elem()
	v.SetZero()
	messageToStruct(m, v)
	return nil
}

func structToMessage(v reflect.Value, m protoreflect.Message) {
	fields := m.Descriptor().Fields()
	for i := 0; i < v.NumField(); i++ {
		num, ok := fieldNumber(v.Type().Field(i))
		if !ok {
			continue
		}
		fd := fields.ByNumber(protoreflect.FieldNumber(num))
		fv := v.Field(i)
		if !fd.IsList() {
			m.Set(fd, toValue(fd, fv))
			continue
		}
		if fv.Len() == 0 {
			continue
		}
		list := m.NewField(fd).List()
		for j := 0; j < fv.Len(); j++ {
			list.Append(toValue(fd, fv.Index(j)))
		}
		m.Set(fd, protoreflect.ValueOfList(list))
	}
}

func toValue(fd protoreflect.FieldDescriptor, fv reflect.Value) protoreflect.Value {
	switch fd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(fv.String())
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(fv.Bool())
	case protoreflect.Int32Kind:
		return protoreflect.ValueOfInt32(int32(fv.Int()))
	case protoreflect.Int64Kind:
		return protoreflect.ValueOfInt64(fv.Int())
	case protoreflect.Uint32Kind:
		return protoreflect.ValueOfUint32(uint32(fv.Uint()))
	case protoreflect.Uint64Kind:
		return protoreflect.ValueOfUint64(fv.Uint())
	case protoreflect.DoubleKind:
		return protoreflect.ValueOfFloat64(fv.Float())
	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes(fv.Bytes())
	default:
		sub := dynamicpb.NewMessage(fd.Message())
		structToMessage(fv, sub)
		return protoreflect.ValueOfMessage(sub)
	}
}

func messageToStruct(m protoreflect.Message, v reflect.Value) {
	fields := m.Descriptor().Fields()
	for i := 0; i < v.NumField(); i++ {
		num, ok := fieldNumber(v.Type().Field(i))
		if !ok {
			continue
		}
		fd := fields.ByNumber(protoreflect.FieldNumber(num))
		if !m.Has(fd) {
			continue
		}
		fv := v.Field(i)
		val := m.Get(fd)
		if !fd.IsList() {
			setValue(fd, fv, val)
			continue
		}
		list := val.List()
		s := reflect.MakeSlice(fv.Type(), list.Len(), list.Len())
		for j := 0; j < list.Len(); j++ {
			setValue(fd, s.Index(j), list.Get(j))
		}
		fv.Set(s)
	}
}

func setValue(fd protoreflect.FieldDescriptor, fv reflect.Value, val protoreflect.Value) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		fv.SetString(val.String())
	case protoreflect.BoolKind:
		fv.SetBool(val.Bool())
	case protoreflect.Int32Kind, protoreflect.Int64Kind:
		fv.SetInt(val.Int())
	case protoreflect.Uint32Kind, protoreflect.Uint64Kind:
		fv.SetUint(val.Uint())
	case protoreflect.DoubleKind:
		fv.SetFloat(val.Float())
	case protoreflect.BytesKind:
		fv.SetBytes(append([]byte(nil), val.Bytes()...))
	default:
		messageToStruct(val.Message(), fv)
	}
}
