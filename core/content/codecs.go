package content

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net/url"

	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// YAMLCodec implements application/yaml.
type YAMLCodec struct{}

func (YAMLCodec) MediaType() MediaType { return YAMLType }

func (YAMLCodec) Decode(r io.Reader, v any) error {
	return yaml.NewDecoder(r).Decode(v)
}

func (YAMLCodec) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// FormCodec implements application/x-www-form-urlencoded. Values decode to
// url.Values; a *any target gets a map[string]string holding the first
// value of each key.
type FormCodec struct{}

func (FormCodec) MediaType() MediaType { return FormType }

func (FormCodec) Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case *url.Values:
		*t = values
	case *map[string]string:
		*t = firstValues(values)
	case *any:
		*t = firstValues(values)
	default:
		return fmt.Errorf("%w: form into %T", ErrUnsupportedValue, v)
	}
	return nil
}

func (FormCodec) Encode(w io.Writer, v any) error {
	var values url.Values
	switch t := v.(type) {
	case url.Values:
		values = t
	case map[string]string:
		values = make(url.Values, len(t))
		for k, s := range t {
			values.Set(k, s)
		}
	case map[string]any:
		values = make(url.Values, len(t))
		for k, x := range t {
			values.Set(k, fmt.Sprint(x))
		}
	default:
		return fmt.Errorf("%w: form from %T", ErrUnsupportedValue, v)
	}
	_, err := io.WriteString(w, values.Encode())
	return err
}

func firstValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

// TextCodec implements text/plain.
type TextCodec struct{}

func (TextCodec) MediaType() MediaType { return TextType }

func (TextCodec) Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case *string:
		*t = string(data)
	case *[]byte:
		*t = data
	case *any:
		*t = string(data)
	default:
		return fmt.Errorf("%w: text into %T", ErrUnsupportedValue, v)
	}
	return nil
}

func (TextCodec) Encode(w io.Writer, v any) error {
	var err error
	switch t := v.(type) {
	case string:
		_, err = io.WriteString(w, t)
	case []byte:
		_, err = w.Write(t)
	case fmt.Stringer:
		_, err = io.WriteString(w, t.String())
	case error:
		_, err = io.WriteString(w, t.Error())
	default:
		_, err = fmt.Fprint(w, v)
	}
	return err
}

// ProtobufCodec implements application/x-protobuf. New supplies the message
// a *any target is decoded into.
type ProtobufCodec struct {
	New func() proto.Message
}

func (ProtobufCodec) MediaType() MediaType { return ProtobufType }

func (c ProtobufCodec) Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, t)
	case *any:
		if c.New == nil {
			return fmt.Errorf("%w: protobuf needs a message prototype", ErrUnsupportedValue)
		}
		msg := c.New()
		if err := proto.Unmarshal(data, msg); err != nil {
			return err
		}
		*t = msg
		return nil
	}
	return fmt.Errorf("value must implement proto.Message interface, got %T", v)
}

func (ProtobufCodec) Encode(w io.Writer, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("value must implement proto.Message interface, got %T", v)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// GobCodec implements application/x-gob for Go-to-Go peers.
type GobCodec struct{}

func (GobCodec) MediaType() MediaType { return GobType }

func (GobCodec) Decode(r io.Reader, v any) error {
	return gob.NewDecoder(r).Decode(v)
}

func (GobCodec) Encode(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
