package publish

import (
	"encoding/json"
	"reflect"
	"testing"
)

func manifestJSON(t *testing.T, m *Manifest, key string) string {
	t.Helper()
	e, ok := m.Entry(key)
	if !ok {
		t.Fatalf("manifest has no key %q (keys %v)", key, m.Keys())
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal %s: %v", key, err)
	}
	return string(data)
}

func TestBuildManifestCompleteness(t *testing.T) {
	m := BuildManifest([]string{"a.md", "b/c.md", "b/d.md"})

	if got, want := m.Keys(), []string{"_meta.json", "b/_meta.json"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if got, want := manifestJSON(t, m, "_meta.json"), `{"a":"a","b":"b"}`; got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
	if got, want := manifestJSON(t, m, "b/_meta.json"), `{"c":"c","d":"d"}`; got != want {
		t.Errorf("b = %s, want %s", got, want)
	}
}

func TestBuildManifestKeepsEnumerationOrder(t *testing.T) {
	m := BuildManifest([]string{"z.md", "m/y.md", "a.md", "m/b.md"})
	if got, want := manifestJSON(t, m, "_meta.json"), `{"z":"z","m":"m","a":"a"}`; got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
	if got, want := manifestJSON(t, m, "m/_meta.json"), `{"y":"y","b":"b"}`; got != want {
		t.Errorf("m = %s, want %s", got, want)
	}
}

func TestBuildManifestNested(t *testing.T) {
	m := BuildManifest([]string{"guide/setup/install.md", "guide/intro.md"})

	want := []string{"_meta.json", "guide/_meta.json", "guide/setup/_meta.json"}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if got, want := manifestJSON(t, m, "guide/_meta.json"), `{"setup":"setup","intro":"intro"}`; got != want {
		t.Errorf("guide = %s, want %s", got, want)
	}
	if got, want := manifestJSON(t, m, "guide/setup/_meta.json"), `{"install":"install"}`; got != want {
		t.Errorf("guide/setup = %s, want %s", got, want)
	}
}

func TestBuildManifestEncodesNames(t *testing.T) {
	m := BuildManifest([]string{"My Notes/First Post.md"})
	if got, want := manifestJSON(t, m, "_meta.json"), `{"My%20Notes":"My Notes"}`; got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
	if got, want := manifestJSON(t, m, "My Notes/_meta.json"), `{"First%20Post":"First Post"}`; got != want {
		t.Errorf("dir = %s, want %s", got, want)
	}
}

func TestBuildManifestDottedDirectoryHasNoEntry(t *testing.T) {
	m := BuildManifest([]string{"v1.2/notes.md"})
	if _, ok := m.Entry("v1.2/_meta.json"); ok {
		t.Error("dotted directory should not get a manifest")
	}
	if got, want := manifestJSON(t, m, "_meta.json"), `{"v1.2":"v1.2"}`; got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
}

func TestBuildManifestBackslashes(t *testing.T) {
	m := BuildManifest([]string{`b\c.md`})
	if got, want := manifestJSON(t, m, "b/_meta.json"), `{"c":"c"}`; got != want {
		t.Errorf("b = %s, want %s", got, want)
	}
}

func TestManifestRestrict(t *testing.T) {
	m := BuildManifest([]string{"a.md", "b/c.md", "b/d.md", "e/f.md"})

	r := m.Restrict("b/c.md")
	if got, want := r.Keys(), []string{"_meta.json", "b/_meta.json"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Restrict(b/c.md) = %v, want %v", got, want)
	}
	if got, want := manifestJSON(t, r, "b/_meta.json"), `{"c":"c","d":"d"}`; got != want {
		t.Errorf("restricted b = %s, want %s", got, want)
	}

	r = m.Restrict("a.md")
	if got, want := r.Keys(), []string{"_meta.json"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Restrict(a.md) = %v, want %v", got, want)
	}
}

func TestBuildManifestChildMatchStopsAtSegment(t *testing.T) {
	m := BuildManifest([]string{"b/c.md", "bar.md", "b.d/e.md"})
	if got, want := manifestJSON(t, m, "b/_meta.json"), `{"c":"c"}`; got != want {
		t.Errorf("b = %s, want %s", got, want)
	}
}

func TestManifestEntryResetKeepsPosition(t *testing.T) {
	e := newManifestEntry()
	e.Set("a", "A")
	e.Set("b", "B")
	e.Set("a", "A2")
	if got, want := e.Names(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if l, _ := e.Label("a"); l != "A2" {
		t.Errorf("Label(a) = %q, want A2", l)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"a":"A2","b":"B"}` {
		t.Errorf("json = %s", data)
	}
}

func TestManifestItems(t *testing.T) {
	items, err := BuildManifest([]string{"b/c.md"}).Items()
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	it := items[1]
	if it.Path != "b/_meta.json" || it.Kind != KindManifest {
		t.Errorf("item = %+v", it)
	}
	if it.Message != "Update MetaJSON: b/_meta.json" {
		t.Errorf("message = %q", it.Message)
	}
	if string(it.Content) != `{"c":"c"}` {
		t.Errorf("content = %s", it.Content)
	}
}
