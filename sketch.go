package morphz

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint
)

// Sketch renders the process topology - process, selector, chains,
// events, and the subprocess cascade - as DOT to w, suitable for
// Graphviz. Vertices are colored by component kind and selector edges
// are labeled with the routing tag they match.
//
// Sketch is pure inspection: it never runs any event and has no effect
// on execution. It walks the live structure, so it reflects whatever
// chains and events are registered at call time.
//
//	var buf bytes.Buffer
//	if err := morphz.Sketch(&buf, process); err != nil {
//	    return err
//	}
//	os.WriteFile("pipeline.gv", buf.Bytes(), 0o644)
func Sketch[I, O any](w io.Writer, process *Process[I, O]) error {
	if process == nil {
		return errors.New("nothing to sketch: process is nil")
	}

	s := &sketcher[I, O]{
		g:      graph.New(graph.StringHash, graph.Directed()),
		onPath: make(map[any]struct{}),
	}

	if _, err := s.sketchProcess(process); err != nil {
		return err
	}

	if err := draw.DOT(s.g, w); err != nil {
		return errors.Wrap(err, "unable to render DOT")
	}
	return nil
}

// Component fills, RGB. Rendered to hex via colors.v1.
var (
	processFill     = [3]uint8{176, 196, 222}
	selectorFill    = [3]uint8{255, 236, 139}
	allChainFill    = [3]uint8{144, 238, 144}
	anyChainFill    = [3]uint8{255, 200, 124}
	verifierFill    = [3]uint8{216, 191, 216}
	mutableFill     = [3]uint8{211, 211, 211}
	transformerFill = [3]uint8{173, 216, 230}
	unknownFill     = [3]uint8{245, 245, 245}
)

type sketcher[I, O any] struct {
	g      graph.Graph[string, string]
	onPath map[any]struct{}
	seq    int
}

func (s *sketcher[I, O]) addVertex(kind, label string, fill [3]uint8) (string, error) {
	rgb, err := colors.RGB(fill[0], fill[1], fill[2])
	if err != nil {
		return "", errors.Wrap(err, "unable to build fill color")
	}

	s.seq++
	id := fmt.Sprintf("%s-%d", kind, s.seq)
	err = s.g.AddVertex(id,
		graph.VertexAttribute("label", label),
		graph.VertexAttribute("style", "filled"),
		graph.VertexAttribute("fillcolor", rgb.ToHEX().String()),
	)
	if err != nil {
		return "", errors.Wrapf(err, "unable to add vertex %s", id)
	}
	return id, nil
}

func (s *sketcher[I, O]) addEdge(from, to string, attrs ...func(*graph.EdgeProperties)) error {
	err := s.g.AddEdge(from, to, attrs...)
	if err != nil {
		return errors.Wrapf(err, "unable to add edge from %s to %s", from, to)
	}
	return nil
}

func (s *sketcher[I, O]) sketchProcess(process *Process[I, O]) (string, error) {
	if _, seen := s.onPath[process]; seen {
		return s.addVertex("cycle", string(process.Name())+" (cycle)", unknownFill)
	}
	s.onPath[process] = struct{}{}
	defer delete(s.onPath, process)

	id, err := s.addVertex("process", string(process.Name()), processFill)
	if err != nil {
		return "", err
	}

	if selector := process.Selector(); selector != nil {
		selectorID, err := s.sketchSelector(selector)
		if err != nil {
			return "", err
		}
		if err := s.addEdge(id, selectorID); err != nil {
			return "", err
		}
	}

	if sub := process.Subprocess(); sub != nil {
		subID, err := s.sketchProcess(sub)
		if err != nil {
			return "", err
		}
		err = s.addEdge(id, subID,
			graph.EdgeAttribute("label", "subprocess"),
			graph.EdgeAttribute("style", "dashed"),
		)
		if err != nil {
			return "", err
		}
	}

	return id, nil
}

func (s *sketcher[I, O]) sketchSelector(selector *Selector[I, O]) (string, error) {
	if _, seen := s.onPath[selector]; seen {
		return s.addVertex("cycle", string(selector.Name())+" (cycle)", unknownFill)
	}
	s.onPath[selector] = struct{}{}
	defer delete(s.onPath, selector)

	id, err := s.addVertex("selector", string(selector.Name()), selectorFill)
	if err != nil {
		return "", err
	}

	for _, chain := range selector.Chains() {
		chainID, err := s.sketchEvent(chain)
		if err != nil {
			return "", err
		}

		label := "default"
		if chain.Tagged() {
			label = string(chain.Tag())
		}
		if err := s.addEdge(id, chainID, graph.EdgeAttribute("label", label)); err != nil {
			return "", err
		}
	}

	return id, nil
}

func (s *sketcher[I, O]) sketchEvent(event Event[I, O]) (string, error) {
	switch ev := event.(type) {
	case *AllChain[I, O]:
		return s.sketchChain("allchain", ev.Name(), allChainFill, ev, snapshotEvents(&ev.mu, &ev.events))

	case *AnyChain[I, O]:
		return s.sketchChain("anychain", ev.Name(), anyChainFill, ev, snapshotEvents(&ev.mu, &ev.events))

	case *Verifier[I, O]:
		id, err := s.addVertex("verifier", string(ev.Name()), verifierFill)
		if err != nil {
			return "", err
		}
		wrappedID, err := s.sketchEvent(ev.Changeable())
		if err != nil {
			return "", err
		}
		if err := s.addEdge(id, wrappedID); err != nil {
			return "", err
		}
		return id, nil

	case Changeable[I, O]:
		fill := mutableFill
		if ev.Kind() == KindTransformer {
			fill = transformerFill
		}
		return s.addVertex(string(ev.Kind()), string(ev.Name()), fill)

	case *Selector[I, O]:
		return s.sketchSelector(ev)

	default:
		return s.addVertex("event", string(event.Name()), unknownFill)
	}
}

func (s *sketcher[I, O]) sketchChain(kind string, name Name, fill [3]uint8, chain any, events []Event[I, O]) (string, error) {
	if _, seen := s.onPath[chain]; seen {
		return s.addVertex("cycle", string(name)+" (cycle)", unknownFill)
	}
	s.onPath[chain] = struct{}{}
	defer delete(s.onPath, chain)

	id, err := s.addVertex(kind, string(name), fill)
	if err != nil {
		return "", err
	}

	for i, event := range events {
		eventID, err := s.sketchEvent(event)
		if err != nil {
			return "", err
		}
		if err := s.addEdge(id, eventID, graph.EdgeAttribute("label", fmt.Sprintf("%d", i+1))); err != nil {
			return "", err
		}
	}

	return id, nil
}

func snapshotEvents[I, O any](mu *sync.RWMutex, events *[]Event[I, O]) []Event[I, O] {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Clone(*events)
}
