package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nimburion/docservice/pkg/query"
	"github.com/nimburion/docservice/pkg/table"
	"github.com/nimburion/docservice/pkg/table/memory"
)

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "items"
	}
	svc, err := New(memory.NewDatabase("test"), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func mustCreate(t *testing.T, svc *Service, data interface{}) interface{} {
	t.Helper()
	out, err := svc.Create(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return out
}

func seedItems(t *testing.T, svc *Service, n int) {
	t.Helper()
	items := make([]table.Record, n)
	for i := range items {
		group := "odd"
		if i%2 == 0 {
			group = "even"
		}
		items[i] = table.Record{"id": fmt.Sprintf("item-%02d", i), "n": i, "group": group}
	}
	mustCreate(t, svc, items)
}

func TestNew_Validation(t *testing.T) {
	db := memory.NewDatabase("test")
	if _, err := New(nil, Options{Name: "items"}); err == nil {
		t.Fatal("expected error for nil database")
	}
	if _, err := New(db, Options{}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := New(db, Options{Name: "items", Whitelist: []string{"$where"}}); err == nil {
		t.Fatal("expected error for unknown whitelisted operator")
	}
	svc, err := New(db, Options{Name: "items"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.ID() != "id" {
		t.Fatalf("ID() = %q, want id", svc.ID())
	}
}

func TestCreate_BatchAssignsGeneratedKeysInOrder(t *testing.T) {
	svc := newTestService(t, Options{})

	out := mustCreate(t, svc, []table.Record{{"name": "a"}, {"id": "given", "name": "b"}, {"name": "c"}})
	created, ok := out.([]table.Record)
	if !ok || len(created) != 3 {
		t.Fatalf("expected 3 records, got %#v", out)
	}
	if created[1]["id"] != "given" {
		t.Fatalf("explicit id overwritten: %v", created[1]["id"])
	}
	for _, i := range []int{0, 2} {
		id, _ := created[i]["id"].(string)
		if id == "" {
			t.Fatalf("record %d has no generated id", i)
		}
		got, err := svc.Get(context.Background(), id, nil)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if got["name"] != created[i]["name"] {
			t.Fatalf("record %d: stored %v, returned %v", i, got["name"], created[i]["name"])
		}
	}
}

func TestCreate_SingleRecordStaysSingle(t *testing.T) {
	svc := newTestService(t, Options{})

	out := mustCreate(t, svc, map[string]interface{}{"name": "solo"})
	rec, ok := out.(table.Record)
	if !ok {
		t.Fatalf("expected a single record, got %T", out)
	}
	if rec["id"] == nil || rec["name"] != "solo" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestCreate_DuplicateIDIsConflict(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a"})

	_, err := svc.Create(context.Background(), table.Record{"id": "a"}, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreate_RejectsScalars(t *testing.T) {
	svc := newTestService(t, Options{})
	if _, err := svc.Create(context.Background(), "nope", nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestCreate_SelectKeepsID(t *testing.T) {
	svc := newTestService(t, Options{})
	out, err := svc.Create(context.Background(), table.Record{"name": "a", "secret": "x"},
		&Params{Query: query.Query{"$select": []string{"name"}}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec := out.(table.Record)
	if _, ok := rec["secret"]; ok {
		t.Fatalf("secret not filtered: %v", rec)
	}
	if rec["id"] == nil || rec["name"] != "a" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestFind_PaginationClampsLimit(t *testing.T) {
	svc := newTestService(t, Options{Paginate: &query.Paginate{Default: 10, Max: 25}})
	seedItems(t, svc, 40)

	res, err := svc.Find(context.Background(), &Params{Query: query.Query{"$limit": 100, "$skip": 5}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !res.Paginated {
		t.Fatal("expected a page")
	}
	if res.Limit != 25 || len(res.Data) != 25 {
		t.Fatalf("limit = %d, rows = %d, want 25", res.Limit, len(res.Data))
	}
	if res.Total != 40 || res.Skip != 5 {
		t.Fatalf("total = %d, skip = %d", res.Total, res.Skip)
	}
}

func TestFind_DefaultLimitAndFilteredTotal(t *testing.T) {
	svc := newTestService(t, Options{Paginate: &query.Paginate{Default: 10, Max: 25}})
	seedItems(t, svc, 40)

	res, err := svc.Find(context.Background(), &Params{Query: query.Query{
		"group": "even",
		"$sort": map[string]interface{}{"n": -1},
	}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Total != 20 || len(res.Data) != 10 {
		t.Fatalf("total = %d, rows = %d", res.Total, len(res.Data))
	}
	if res.Data[0]["n"] != 38 {
		t.Fatalf("expected descending order, first n = %v", res.Data[0]["n"])
	}
}

func TestFind_UnpaginatedReturnsList(t *testing.T) {
	svc := newTestService(t, Options{Paginate: &query.Paginate{Default: 2}})
	seedItems(t, svc, 5)

	res, err := svc.Find(context.Background(), &Params{Paginate: &query.Paginate{}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Paginated || len(res.Data) != 5 {
		t.Fatalf("expected 5 unpaginated rows, got %+v", res)
	}
}

func TestFind_RejectsOperatorOutsideWhitelist(t *testing.T) {
	svc := newTestService(t, Options{Whitelist: []string{"$eq"}})
	seedItems(t, svc, 3)

	_, err := svc.Find(context.Background(), &Params{Query: query.Query{"tags": map[string]interface{}{"$contains": "x"}}})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestFind_Override(t *testing.T) {
	svc := newTestService(t, Options{})
	seedItems(t, svc, 6)

	override := svc.Table().All().Filter(table.Field("group", table.OpEq, "odd"))
	res, err := svc.Find(context.Background(), &Params{Override: override, Query: query.Query{"$limit": 2}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Data))
	}
	for _, row := range res.Data {
		if row["group"] != "odd" {
			t.Fatalf("override ignored: %v", row)
		}
	}
}

func TestGet(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a", "name": "alpha", "size": 3})

	t.Run("found with select", func(t *testing.T) {
		rec, err := svc.Get(context.Background(), "a", &Params{Query: query.Query{"$select": []string{"name"}}})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec["id"] != "a" || rec["name"] != "alpha" {
			t.Fatalf("unexpected record %v", rec)
		}
		if _, ok := rec["size"]; ok {
			t.Fatalf("size not filtered: %v", rec)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := svc.Get(context.Background(), "zzz", nil)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err.Error() != "No record found for id 'zzz'" {
			t.Fatalf("message = %q", err.Error())
		}
	})

	t.Run("nil id uses the query", func(t *testing.T) {
		rec, err := svc.Get(context.Background(), nil, &Params{Query: query.Query{"name": "alpha"}})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec["id"] != "a" {
			t.Fatalf("unexpected record %v", rec)
		}
	})
}

func TestGetOrFind(t *testing.T) {
	svc := newTestService(t, Options{})
	seedItems(t, svc, 3)

	out, err := svc.GetOrFind(context.Background(), AllRecords, nil)
	if err != nil {
		t.Fatalf("GetOrFind: %v", err)
	}
	res, ok := out.(*query.Result)
	if !ok || len(res.Data) != 3 {
		t.Fatalf("expected a find result, got %#v", out)
	}

	out, err = svc.GetOrFind(context.Background(), "item-01", nil)
	if err != nil {
		t.Fatalf("GetOrFind: %v", err)
	}
	if rec, ok := out.(table.Record); !ok || rec["id"] != "item-01" {
		t.Fatalf("expected record item-01, got %#v", out)
	}
}

func TestPatch_ByQueryReturnsEveryMatch(t *testing.T) {
	svc := newTestService(t, Options{})
	seedItems(t, svc, 6)

	out, err := svc.Patch(context.Background(), nil, table.Record{"flag": true},
		&Params{Query: query.Query{"group": "odd"}})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	patched, ok := out.([]table.Record)
	if !ok || len(patched) != 3 {
		t.Fatalf("expected 3 records, got %#v", out)
	}
	for _, rec := range patched {
		if rec["flag"] != true || rec["group"] != "odd" {
			t.Fatalf("unexpected record %v", rec)
		}
	}

	res, err := svc.Find(context.Background(), &Params{Query: query.Query{"flag": true}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(res.Data) != 3 {
		t.Fatalf("expected 3 stored patches, got %d", len(res.Data))
	}
}

func TestPatch_ByIDReturnsObject(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a", "name": "alpha", "meta": map[string]interface{}{"x": 1}})

	out, err := svc.Patch(context.Background(), "a", table.Record{"meta": map[string]interface{}{"y": 2}}, nil)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	rec, ok := out.(table.Record)
	if !ok {
		t.Fatalf("expected bare record, got %T", out)
	}
	meta, _ := rec["meta"].(map[string]interface{})
	if meta["x"] != 1 || meta["y"] != 2 || rec["name"] != "alpha" {
		t.Fatalf("patch did not merge: %v", rec)
	}
}

func TestPatch_UnchangedReturnsCurrent(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a", "name": "alpha"})

	out, err := svc.Patch(context.Background(), "a", table.Record{"name": "alpha"}, nil)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if rec := out.(table.Record); rec["name"] != "alpha" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestPatch_Errors(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a"})

	if _, err := svc.Patch(context.Background(), nil, table.Record{"x": 1}, nil); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := svc.Patch(context.Background(), "missing", table.Record{"x": 1}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Patch(context.Background(), "a", table.Record{"id": "b"}, nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for id change, got %v", err)
	}
}

func TestUpdate_RejectsListsAndMissingID(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a"})

	cases := []struct {
		name string
		id   interface{}
		data interface{}
	}{
		{"list with id", "a", []table.Record{{"x": 1}, {"x": 2}}},
		{"generic list", "a", []interface{}{map[string]interface{}{"x": 1}}},
		{"nil id", nil, table.Record{"x": 1}},
		{"all records", AllRecords, table.Record{"x": 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), tc.id, tc.data, nil)
			if !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected bad request, got %v", err)
			}
		})
	}
}

func TestUpdate_ReplacesRecord(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a", "name": "alpha", "size": 1})

	rec, err := svc.Update(context.Background(), "a", table.Record{"name": "beta"}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec["id"] != "a" || rec["name"] != "beta" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, ok := rec["size"]; ok {
		t.Fatalf("update should replace, got %v", rec)
	}

	if _, err := svc.Update(context.Background(), "missing", table.Record{"name": "x"}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemove_ByIDReturnsObject(t *testing.T) {
	svc := newTestService(t, Options{})
	mustCreate(t, svc, table.Record{"id": "a", "name": "alpha"})

	out, err := svc.Remove(context.Background(), "a", nil)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rec, ok := out.(table.Record)
	if !ok || rec["name"] != "alpha" {
		t.Fatalf("expected removed record, got %#v", out)
	}

	out, err = svc.Remove(context.Background(), "a", nil)
	if err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if recs, ok := out.([]table.Record); !ok || len(recs) != 0 {
		t.Fatalf("expected empty result, got %#v", out)
	}
}

func TestRemove_AllReturnsPreDeleteValues(t *testing.T) {
	svc := newTestService(t, Options{})

	out, err := svc.Remove(context.Background(), AllRecords, &Params{})
	if err != nil {
		t.Fatalf("Remove on empty table: %v", err)
	}
	if recs := out.([]table.Record); len(recs) != 0 {
		t.Fatalf("expected no records, got %v", recs)
	}

	seedItems(t, svc, 5)
	out, err = svc.Remove(context.Background(), AllRecords, &Params{Query: query.Query{"id": "item-00"}})
	if err != nil {
		t.Fatalf("Remove single match: %v", err)
	}
	if recs, ok := out.([]table.Record); !ok || len(recs) != 1 || recs[0]["id"] != "item-00" {
		t.Fatalf("expected a one-record list, got %T %v", out, out)
	}

	out, err = svc.Remove(context.Background(), AllRecords, &Params{Query: query.Query{"group": "even"}})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if recs := out.([]table.Record); len(recs) != 2 {
		t.Fatalf("expected 2 removed, got %v", recs)
	}

	out, err = svc.Remove(context.Background(), AllRecords, &Params{})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if recs := out.([]table.Record); len(recs) != 2 {
		t.Fatalf("expected remaining 2 removed, got %v", recs)
	}
	res, err := svc.Find(context.Background(), nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(res.Data) != 0 {
		t.Fatalf("table not empty: %v", res.Data)
	}
}

func TestRemove_NilIDIsUsage(t *testing.T) {
	svc := newTestService(t, Options{})
	seedItems(t, svc, 3)

	tests := []struct {
		name   string
		params *Params
	}{
		{"no params", nil},
		{"empty params", &Params{}},
		{"with query", &Params{Query: query.Query{"group": "even"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.Remove(context.Background(), nil, tt.params)
			if !errors.Is(err, ErrUsage) {
				t.Fatalf("expected usage error, got %v, %v", out, err)
			}
		})
	}

	res, err := svc.Find(context.Background(), nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(res.Data) != 3 {
		t.Fatalf("expected all 3 records kept, got %v", res.Data)
	}
}

func TestInit_IsIdempotent(t *testing.T) {
	svc := newTestService(t, Options{})
	for i := 0; i < 2; i++ {
		if err := svc.Init(context.Background(), table.Options{}); err != nil {
			t.Fatalf("Init #%d: %v", i, err)
		}
	}
}

func TestProperty_BatchCreateIDsFollowGeneratedKeys(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("result[i].id is the i-th stored record", prop.ForAll(
		func(n int) bool {
			db := memory.NewDatabase("prop")
			svc, err := New(db, Options{Name: "items"})
			if err != nil {
				return false
			}
			items := make([]table.Record, n)
			for i := range items {
				items[i] = table.Record{"seq": i}
			}
			out, err := svc.Create(context.Background(), items, nil)
			if err != nil {
				return false
			}
			created := out.([]table.Record)
			if len(created) != n {
				return false
			}
			seen := make(map[interface{}]bool, n)
			for i, rec := range created {
				if rec["seq"] != i || seen[rec["id"]] {
					return false
				}
				seen[rec["id"]] = true
				stored, err := svc.Get(context.Background(), rec["id"], nil)
				if err != nil || stored["seq"] != i {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
