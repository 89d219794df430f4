package schema

import (
	"reflect"
	"testing"

	"etlpipe/pkg/records"
)

func TestInfer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		batch records.Batch
		want  Schema
	}{
		{
			name:  "empty batch",
			batch: records.Batch{},
			want:  nil,
		},
		{
			name: "runtime kinds",
			batch: records.Batch{
				{"active": true, "count": int64(3), "price": 9.99, "title": "x"},
			},
			want: Schema{
				{"active", Boolean}, {"count", Integer}, {"price", Double}, {"title", Text},
			},
		},
		{
			name: "whole float64 counts as integer",
			batch: records.Batch{
				{"qty": float64(7)},
			},
			want: Schema{{"qty", Integer}},
		},
		{
			name: "null only column infers text",
			batch: records.Batch{
				{"note": nil},
				{"note": nil},
			},
			want: Schema{{"note", Text}},
		},
		{
			name: "first non-null wins",
			batch: records.Batch{
				{"v": nil},
				{"v": int64(1)},
				{"v": "later disagreement ignored"},
			},
			want: Schema{{"v", Integer}},
		},
		{
			name: "column order follows first appearance",
			batch: records.Batch{
				{"b": int64(1)},
				{"a": "x", "b": int64(2)},
			},
			want: Schema{{"b", Integer}, {"a", Text}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Infer(tt.batch)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Infer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchemaLookup(t *testing.T) {
	t.Parallel()

	s := Schema{{"id", Integer}, {"name", Text}}
	if typ, ok := s.Lookup("id"); !ok || typ != Integer {
		t.Errorf("Lookup(id) = %v, %v", typ, ok)
	}
	if _, ok := s.Lookup("missing"); ok {
		t.Error("Lookup(missing) reported present")
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestTypeString(t *testing.T) {
	t.Parallel()

	for typ, want := range map[Type]string{
		Text: "text", Boolean: "boolean", Integer: "integer", Double: "double",
	} {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}
