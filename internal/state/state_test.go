package state

import "testing"

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want FileState
		emit bool
	}{
		{
			name: "absent everywhere emits nothing",
			rec:  Record{},
			emit: false,
		},
		{
			name: "missing in work",
			rec:  Record{ExistsProd: true, HashProd: "b1", HashProdHead: "b1"},
			want: Deleted, emit: true,
		},
		{
			name: "new local file",
			rec:  Record{ExistsWork: true, HashWork: "a1"},
			want: Modified, emit: true,
		},
		{
			name: "identical content",
			rec: Record{ExistsWork: true, ExistsProd: true,
				HashWork: "x", HashProd: "x", HashWorkHead: "old", HashProdHead: "older"},
			want: Same, emit: true,
		},
		{
			name: "remote only change",
			rec: Record{ExistsWork: true, ExistsProd: true,
				HashWork: "a", HashProd: "b", HashWorkHead: "a", HashProdHead: "c"},
			want: Updated, emit: true,
		},
		{
			name: "local only change",
			rec: Record{ExistsWork: true, ExistsProd: true,
				HashWork: "a", HashProd: "b", HashWorkHead: "z", HashProdHead: "b"},
			want: Modified, emit: true,
		},
		{
			name: "both sides diverged",
			rec: Record{ExistsWork: true, ExistsProd: true,
				HashWork: "a", HashProd: "b", HashWorkHead: "z", HashProdHead: "c"},
			want: Conflicted, emit: true,
		},
		{
			name: "defensive default",
			rec: Record{ExistsWork: true, ExistsProd: true,
				HashWork: "a", HashProd: "b", HashWorkHead: "a", HashProdHead: "b"},
			want: Modified, emit: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, emit := Classify(tc.rec)
			if emit != tc.emit {
				t.Fatalf("emit = %v, want %v", emit, tc.emit)
			}
			if emit && got != tc.want {
				t.Fatalf("state = %s, want %s", got, tc.want)
			}
		})
	}
}

// Hash equality between the two working copies must win even when both HEAD
// hashes disagree with everything.
func TestClassifyHashEqualityDominates(t *testing.T) {
	rec := Record{
		ExistsWork: true, ExistsProd: true,
		HashWork: "same", HashProd: "same",
		HashWorkHead: "w-old", HashProdHead: "p-old",
	}
	got, emit := Classify(rec)
	if !emit || got != Same {
		t.Fatalf("got %s (emit=%v), want %s", got, emit, Same)
	}
}
