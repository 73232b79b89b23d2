package vrkai

import (
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/vrpath"
)

func testModel(t *testing.T) embedding.ModelType {
	t.Helper()
	model, err := embedding.DefaultCatalog().Lookup("all-minilm-l6-v2")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return model
}

func buildDoc(t *testing.T, name string) *resource.DocResource {
	t.Helper()
	doc := resource.NewDocResource(name, testModel(t))
	doc.SetResourceEmbedding(embedding.NewEmbedding([]float32{0.6, 0.8}))
	doc.SetKeywords([]string{"intro", "guide"})
	if _, err := doc.AppendText("first paragraph", map[string]string{"page": "1"}, []string{"alpha"}, embedding.NewEmbedding([]float32{1, 0})); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	if _, err := doc.AppendText("second paragraph", nil, nil, embedding.NewEmbedding([]float32{0, 1})); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	return doc
}

func embeddingsClose(a, b *embedding.Embedding) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Vector) != len(b.Vector) {
		return false
	}
	for i := range a.Vector {
		if math.Abs(float64(a.Vector[i])-float64(b.Vector[i])) > 1e-6 {
			return false
		}
	}
	return true
}

func TestVRKai_RoundTrip(t *testing.T) {
	doc := buildDoc(t, "intro")
	source := []byte("raw file contents")
	k := New(doc, source)

	data, err := k.EncodeBytes()
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}

	if got.Resource.Name() != "intro" {
		t.Errorf("name = %q, want %q", got.Resource.Name(), "intro")
	}
	if got.Resource.NodeCount() != doc.NodeCount() {
		t.Errorf("node count = %d, want %d", got.Resource.NodeCount(), doc.NodeCount())
	}
	if got.Resource.EmbeddingModel().Name != doc.EmbeddingModel().Name {
		t.Errorf("model = %q, want %q", got.Resource.EmbeddingModel().Name, doc.EmbeddingModel().Name)
	}
	if string(got.SourceBytes) != string(source) {
		t.Errorf("source bytes = %q, want %q", got.SourceBytes, source)
	}
	if !embeddingsClose(got.Resource.ResourceEmbedding(), doc.ResourceEmbedding()) {
		t.Errorf("resource embedding did not round-trip")
	}

	wantNodes := doc.Nodes()
	gotNodes := got.Resource.Nodes()
	if len(gotNodes) != len(wantNodes) {
		t.Fatalf("nodes = %d, want %d", len(gotNodes), len(wantNodes))
	}
	for i := range wantNodes {
		wantText, _ := wantNodes[i].Text()
		gotText, ok := gotNodes[i].Text()
		if !ok || gotText != wantText {
			t.Errorf("node %d text = %q, want %q", i, gotText, wantText)
		}
		if !embeddingsClose(gotNodes[i].Embedding, wantNodes[i].Embedding) {
			t.Errorf("node %d embedding did not round-trip", i)
		}
	}
}

func TestVRKai_RoundTripBase64(t *testing.T) {
	k := New(buildDoc(t, "intro"), nil)
	s, err := k.EncodeBase64()
	if err != nil {
		t.Fatalf("EncodeBase64: %v", err)
	}
	got, err := DecodeBase64(s)
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if got.Resource.NodeCount() != 2 {
		t.Errorf("node count = %d, want 2", got.Resource.NodeCount())
	}
	if got.SourceBytes != nil {
		t.Errorf("source bytes = %v, want nil", got.SourceBytes)
	}
}

func TestDecodeBytes_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("KA")},
		{"wrong magic", []byte("XYZ\x01whatever")},
		{"pack magic", append([]byte("PAK\x01"), 0xa0)},
		{"truncated body", []byte("KAI\x01")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeBytes(tc.data); !errors.Is(err, ErrDecode) {
				t.Errorf("DecodeBytes(%q) err = %v, want ErrDecode", tc.data, err)
			}
		})
	}
}

func TestVRKai_Copy(t *testing.T) {
	k := New(buildDoc(t, "intro"), []byte("src"))
	cp := k.Copy()
	cp.SourceBytes[0] = 'X'
	if k.SourceBytes[0] == 'X' {
		t.Error("copy shares source bytes with original")
	}
	if _, err := cp.Resource.(*resource.DocResource).AppendText("extra", nil, nil, nil); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	if k.Resource.NodeCount() == cp.Resource.NodeCount() {
		t.Error("copy shares node storage with original")
	}
}

func TestVRPack_InsertAndGet(t *testing.T) {
	pack := NewEmpty("bundle")
	path := vrpath.New("docs", "intro")
	k := New(buildDoc(t, "intro"), nil)

	if err := pack.InsertVRKai(k, path, false); err != nil {
		t.Fatalf("InsertVRKai: %v", err)
	}
	got, ok := pack.Get(path)
	if !ok {
		t.Fatal("Get: entry missing after insert")
	}
	if got.Resource.Name() != "intro" {
		t.Errorf("resource name = %q, want %q", got.Resource.Name(), "intro")
	}

	other := New(buildDoc(t, "other"), nil)
	if err := pack.InsertVRKai(other, path, false); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second insert err = %v, want ErrAlreadyExists", err)
	}
	got, _ = pack.Get(path)
	if got.Resource.Name() != "intro" {
		t.Error("failed insert replaced the existing entry")
	}

	if err := pack.InsertVRKai(other, path, true); err != nil {
		t.Fatalf("overwrite insert: %v", err)
	}
	got, _ = pack.Get(path)
	if got.Resource.Name() != "other" {
		t.Error("overwrite insert did not replace the entry")
	}
}

func TestVRPack_EntriesOrder(t *testing.T) {
	pack := NewEmpty("bundle")
	paths := []vrpath.Path{
		vrpath.New("zz"),
		vrpath.New("docs", "b"),
		vrpath.New("docs", "a"),
		vrpath.New("a"),
	}
	for _, p := range paths {
		name, _ := p.Last()
		if err := pack.InsertVRKai(New(buildDoc(t, name), nil), p, false); err != nil {
			t.Fatalf("InsertVRKai(%s): %v", p, err)
		}
	}
	want := []string{"/a", "/zz", "/docs/a", "/docs/b"}
	entries := pack.Entries()
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Path.String() != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Path, want[i])
		}
	}
}

func TestVRPack_RoundTrip(t *testing.T) {
	pack := NewEmpty("bundle")
	if err := pack.InsertVRKai(New(buildDoc(t, "intro"), []byte("src")), vrpath.New("docs", "intro"), false); err != nil {
		t.Fatalf("InsertVRKai: %v", err)
	}
	if err := pack.InsertVRKai(New(buildDoc(t, "notes"), nil), vrpath.New("notes"), false); err != nil {
		t.Fatalf("InsertVRKai: %v", err)
	}

	data, err := pack.EncodeBytes()
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	got, err := DecodePackBytes(data)
	if err != nil {
		t.Fatalf("DecodePackBytes: %v", err)
	}
	if got.Name != "bundle" {
		t.Errorf("name = %q, want %q", got.Name, "bundle")
	}
	if got.Len() != 2 {
		t.Fatalf("len = %d, want 2", got.Len())
	}
	intro, ok := got.Get(vrpath.New("docs", "intro"))
	if !ok {
		t.Fatal("missing /docs/intro entry")
	}
	if string(intro.SourceBytes) != "src" {
		t.Errorf("source bytes = %q, want %q", intro.SourceBytes, "src")
	}
	if intro.Resource.NodeCount() != 2 {
		t.Errorf("node count = %d, want 2", intro.Resource.NodeCount())
	}
}

func TestDecodePackBytes_RejectsVRKaiMagic(t *testing.T) {
	k := New(buildDoc(t, "intro"), nil)
	data, err := k.EncodeBytes()
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	if _, err := DecodePackBytes(data); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodePackBytes(vrkai bytes) err = %v, want ErrDecode", err)
	}
}

func TestVRPack_Remove(t *testing.T) {
	pack := NewEmpty("bundle")
	path := vrpath.New("docs", "intro")
	if err := pack.InsertVRKai(New(buildDoc(t, "intro"), nil), path, false); err != nil {
		t.Fatalf("InsertVRKai: %v", err)
	}
	if !pack.Remove(path) {
		t.Error("Remove returned false for existing entry")
	}
	if pack.Remove(path) {
		t.Error("Remove returned true for absent entry")
	}
	if _, ok := pack.Get(path); ok {
		t.Error("entry still present after Remove")
	}
}
