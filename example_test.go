package vexdb_test

import (
	"fmt"

	"github.com/vexdb/vexdb"
	"github.com/vexdb/vexdb/core"
)

func ExampleNew() {
	cfg := core.DefaultConfig(4)

	db, err := vexdb.New(cfg)
	if err != nil {
		panic(err)
	}

	_, _ = db.Add([]float32{1, 0, 0, 0}, core.Metadata{"label": "x-axis"})
	_, _ = db.Add([]float32{0, 1, 0, 0}, core.Metadata{"label": "y-axis"})

	results, err := db.Search([]float32{0.9, 0.1, 0, 0}, 1)
	if err != nil {
		panic(err)
	}

	fmt.Println(results[0].Metadata["label"])
	// Output: x-axis
}

func ExampleDB_FilteredSearch() {
	db, err := vexdb.New(core.DefaultConfig(2))
	if err != nil {
		panic(err)
	}

	_, _ = db.Add([]float32{0, 0}, core.Metadata{"kind": "origin"})
	_, _ = db.Add([]float32{1, 1}, core.Metadata{"kind": "corner"})

	params := core.DefaultSearchParams()
	params.K = 1
	results, err := db.FilteredSearch([]float32{0, 0}, params, func(md core.Metadata) bool {
		return md["kind"] == "corner"
	})
	if err != nil {
		panic(err)
	}

	fmt.Println(results[0].Metadata["kind"])
	// Output: corner
}
