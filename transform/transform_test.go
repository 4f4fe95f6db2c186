package transform

import (
	"reflect"
	"testing"

	"github.com/m-lab/bq-export-pipeline/dataset"
)

func TestTransformer_Apply(t *testing.T) {
	schema := []string{"Department", "id"}
	tests := []struct {
		name string
		in   *dataset.Dataset
		want []dataset.Row
	}{
		{
			name: "filter-and-dedup",
			in: dataset.New(schema,
				dataset.Row{"Dept_02", int64(1)},
				dataset.Row{"Dept_02", int64(1)},
				dataset.Row{"Dept_01", int64(2)},
			),
			want: []dataset.Row{{"Dept_02", int64(1)}},
		},
		{
			name: "no-matching-rows",
			in: dataset.New(schema,
				dataset.Row{"Dept_01", int64(2)},
			),
			want: []dataset.Row{},
		},
		{
			name: "empty-input",
			in:   dataset.New(schema),
			want: []dataset.Row{},
		},
		{
			name: "same-department-different-rows",
			in: dataset.New(schema,
				dataset.Row{"Dept_02", int64(1)},
				dataset.Row{"Dept_02", int64(2)},
				dataset.Row{"Dept_02", int64(1)},
			),
			want: []dataset.Row{{"Dept_02", int64(1)}, {"Dept_02", int64(2)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("Department", "Dept_02")
			got := tr.Apply(tt.in)
			if !reflect.DeepEqual(got.Rows, tt.want) {
				t.Errorf("Apply() = %v, want %v", got.Rows, tt.want)
			}
			if !reflect.DeepEqual(got.Schema, schema) {
				t.Errorf("Apply() changed the schema: %v", got.Schema)
			}
			// Every surviving row matches the filter.
			col := got.Column("Department")
			for _, r := range got.Rows {
				if r[col] != "Dept_02" {
					t.Errorf("Apply() kept a non-matching row: %v", r)
				}
			}
			// Applying the transformation twice changes nothing.
			if again := tr.Apply(got); !reflect.DeepEqual(again.Rows, got.Rows) {
				t.Errorf("Apply() is not idempotent: %v != %v", again.Rows, got.Rows)
			}
		})
	}
}
