package resource

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/hyperjump/kura/internal/embedding"
)

func buildSampleDoc(t *testing.T) *DocResource {
	t.Helper()
	doc := NewDocResource("intro", testModel)
	doc.SetKeywords([]string{"vectors", "intro"})
	if _, err := doc.AppendText("first", map[string]string{"page": "1"}, []string{"alpha"}, embedding.NewEmbedding([]float32{0.6, 0.8})); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.AppendText("second", nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	nested := NewMapResource("attachments", testModel)
	if err := nested.AddNode(NewTextNode("note", "nested text", nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := doc.AddNode(NewResourceNode("3", nested, nil)); err != nil {
		t.Fatal(err)
	}
	if err := doc.AddNode(NewHeaderNode("4", nested.Header(), nil)); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestResource_CBORRoundTrip(t *testing.T) {
	doc := buildSampleDoc(t)
	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := DecodeResource(data)
	if err != nil {
		t.Fatalf("DecodeResource: %v", err)
	}
	assertEquivalent(t, doc, back)
}

func TestResource_JSONRoundTrip(t *testing.T) {
	doc := buildSampleDoc(t)
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var back DocResource
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	assertEquivalent(t, doc, &back)
}

func assertEquivalent(t *testing.T, want, got VectorResource) {
	t.Helper()
	if got.Name() != want.Name() {
		t.Errorf("name = %q, want %q", got.Name(), want.Name())
	}
	if got.ResourceID() != want.ResourceID() {
		t.Errorf("id = %q, want %q", got.ResourceID(), want.ResourceID())
	}
	if got.BaseType() != want.BaseType() {
		t.Errorf("base type = %q, want %q", got.BaseType(), want.BaseType())
	}
	if got.EmbeddingModel() != want.EmbeddingModel() {
		t.Errorf("model = %+v, want %+v", got.EmbeddingModel(), want.EmbeddingModel())
	}
	if got.NodeCount() != want.NodeCount() {
		t.Fatalf("node count = %d, want %d", got.NodeCount(), want.NodeCount())
	}

	wantNodes := want.Nodes()
	gotNodes := got.Nodes()
	for i := range wantNodes {
		w, g := wantNodes[i], gotNodes[i]
		if g.ID != w.ID {
			t.Errorf("node %d: id = %q, want %q", i, g.ID, w.ID)
			continue
		}
		if g.Content.Kind() != w.Content.Kind() {
			t.Errorf("node %s: kind = %q, want %q", w.ID, g.Content.Kind(), w.Content.Kind())
		}
		if wt, ok := w.Text(); ok {
			gt, _ := g.Text()
			if gt != wt {
				t.Errorf("node %s: text = %q, want %q", w.ID, gt, wt)
			}
		}
		if wr, ok := w.Resource(); ok {
			gr, ok := g.Resource()
			if !ok {
				t.Errorf("node %s: lost nested resource", w.ID)
				continue
			}
			assertEquivalent(t, wr, gr)
		}
		if wh, ok := w.Header(); ok {
			gh, _ := g.Header()
			if gh.ReferenceKey() != wh.ReferenceKey() {
				t.Errorf("node %s: reference = %q, want %q", w.ID, gh.ReferenceKey(), wh.ReferenceKey())
			}
		}
		if w.Embedding != nil {
			if g.Embedding == nil {
				t.Errorf("node %s: lost embedding", w.ID)
				continue
			}
			for j := range w.Embedding.Vector {
				if math.Abs(float64(g.Embedding.Vector[j]-w.Embedding.Vector[j])) > 1e-6 {
					t.Errorf("node %s: embedding[%d] = %f, want %f", w.ID, j, g.Embedding.Vector[j], w.Embedding.Vector[j])
				}
			}
		}
	}

	// Index state survives the trip.
	for _, tag := range want.TagIndex().TagNames() {
		wantIDs, _ := want.TagIndex().IDs(tag)
		gotIDs, seen := got.TagIndex().IDs(tag)
		if !seen || len(gotIDs) != len(wantIDs) {
			t.Errorf("tag %q: ids = %v, want %v", tag, gotIDs, wantIDs)
		}
	}
}

func TestMarshal_Canonical(t *testing.T) {
	doc := buildSampleDoc(t)
	a, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding should be byte-stable")
	}
}
