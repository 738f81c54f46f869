package sanity

// Patch describes field changes applied to one document.
type Patch struct {
	Set   map[string]any
	Unset []string
}

// Tx accumulates mutations for one atomic commit. It is not safe for
// concurrent use; callers building a tx from multiple goroutines must
// serialize appends.
type Tx struct {
	mutations []map[string]any
}

// NewTx creates an empty transaction.
func NewTx() *Tx {
	return &Tx{}
}

// Create queues an unconditional document create. Fails on commit if
// the ID already exists.
func (t *Tx) Create(doc any) *Tx {
	t.mutations = append(t.mutations, map[string]any{"create": doc})
	return t
}

// CreateIfNotExists queues an idempotent create: a no-op when a document
// with the same ID is already present. Safe under duplicate calls within
// a batch given deterministic IDs.
func (t *Tx) CreateIfNotExists(doc any) *Tx {
	t.mutations = append(t.mutations, map[string]any{"createIfNotExists": doc})
	return t
}

// CreateOrReplace queues a full-document replace.
func (t *Tx) CreateOrReplace(doc any) *Tx {
	t.mutations = append(t.mutations, map[string]any{"createOrReplace": doc})
	return t
}

// Patch queues a partial update of the document with the given ID.
func (t *Tx) Patch(id string, p Patch) *Tx {
	patch := map[string]any{"id": id}
	if len(p.Set) > 0 {
		patch["set"] = p.Set
	}
	if len(p.Unset) > 0 {
		patch["unset"] = p.Unset
	}
	t.mutations = append(t.mutations, map[string]any{"patch": patch})
	return t
}

// Delete queues a delete by ID.
func (t *Tx) Delete(id string) *Tx {
	t.mutations = append(t.mutations, map[string]any{"delete": map[string]any{"id": id}})
	return t
}

// Append moves all mutations from other onto t, preserving order.
// Used to merge per-item staged transactions into one batch commit.
func (t *Tx) Append(other *Tx) *Tx {
	t.mutations = append(t.mutations, other.mutations...)
	return t
}

// Len returns the number of queued mutations.
func (t *Tx) Len() int {
	return len(t.mutations)
}

// Empty reports whether no mutations are queued.
func (t *Tx) Empty() bool {
	return len(t.mutations) == 0
}

// Mutations exposes the queued mutation payloads for inspection in tests.
func (t *Tx) Mutations() []map[string]any {
	return t.mutations
}
