package snapsync

import "fmt"

// SolutionBuilder assembles a solution graph and publishes its canonically
// encoded nodes into an AssetSink, bottom-up: documents first, then
// projects, then the root. The returned root checksum is all a consumer
// needs to materialize the whole solution.
type SolutionBuilder struct {
	name     string
	projects []*ProjectBuilder
	options  map[string]string
}

// ProjectBuilder assembles one project: an ordered sequence of documents
// plus project-level metadata.
type ProjectBuilder struct {
	name string
	meta map[string]string
	docs []document
}

type document struct {
	name    string
	content []byte
}

// NewSolution creates an empty solution builder.
func NewSolution() *SolutionBuilder {
	return &SolutionBuilder{options: make(map[string]string)}
}

// SetName names the solution.
func (b *SolutionBuilder) SetName(name string) *SolutionBuilder {
	b.name = name
	return b
}

// SetOption records a default option for the solution's option set.
func (b *SolutionBuilder) SetOption(key, value string) *SolutionBuilder {
	b.options[key] = value
	return b
}

// AddProject appends a project and returns its builder. Project order is
// checksum-significant.
func (b *SolutionBuilder) AddProject(name string) *ProjectBuilder {
	p := &ProjectBuilder{name: name, meta: make(map[string]string)}
	b.projects = append(b.projects, p)
	return p
}

// SetMeta records project-level metadata.
func (p *ProjectBuilder) SetMeta(key, value string) *ProjectBuilder {
	p.meta[key] = value
	return p
}

// AddDocument appends a document. Document order is checksum-significant.
func (p *ProjectBuilder) AddDocument(name string, content []byte) *ProjectBuilder {
	p.docs = append(p.docs, document{name: name, content: content})
	return p
}

// Build encodes the graph into sink and returns the root checksum.
func (b *SolutionBuilder) Build(sink AssetSink) (Checksum, error) {
	children := make([]Checksum, 0, len(b.projects)+1)

	for _, p := range b.projects {
		sum, err := p.build(sink)
		if err != nil {
			return "", fmt.Errorf("build project %q: %w", p.name, err)
		}
		children = append(children, sum)
	}

	optSum, err := putNode(sink, &SnapshotNode{
		Kind:  KindOptionSet,
		Attrs: b.options,
	})
	if err != nil {
		return "", fmt.Errorf("build option set: %w", err)
	}
	children = append(children, optSum)

	root, err := putNode(sink, &SnapshotNode{
		Kind:     KindSolution,
		Name:     b.name,
		Children: children,
	})
	if err != nil {
		return "", fmt.Errorf("build solution: %w", err)
	}
	return root, nil
}

func (p *ProjectBuilder) build(sink AssetSink) (Checksum, error) {
	children := make([]Checksum, 0, len(p.docs))
	for _, d := range p.docs {
		sum, err := putNode(sink, &SnapshotNode{
			Kind:    KindDocument,
			Name:    d.name,
			Payload: d.content,
		})
		if err != nil {
			return "", fmt.Errorf("build document %q: %w", d.name, err)
		}
		children = append(children, sum)
	}

	return putNode(sink, &SnapshotNode{
		Kind:     KindProject,
		Name:     p.name,
		Attrs:    p.meta,
		Children: children,
	})
}

func putNode(sink AssetSink, n *SnapshotNode) (Checksum, error) {
	data, err := n.Encode()
	if err != nil {
		return "", err
	}
	return sink.Put(data)
}
