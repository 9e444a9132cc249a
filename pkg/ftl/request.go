package ftl

import (
	"time"

	"github.com/google/uuid"
)

// Request is the upstream contract per spec.md §6: a sector number, a
// direction, a payload of one host-page-equivalent, a completion callback,
// and a private cookie. The core saves the callback in the RequestWrapper
// as an explicit field (spec.md §9), rather than overwriting it, and
// invokes it once the request completes.
type Request struct {
	Sector   uint64
	Dir      Direction
	Payload  []byte
	Complete func(*Request, error)
	Cookie   interface{}
}

// Kind distinguishes a host-issued request from one synthesized by GC, so
// endio's handle-ownership and completion-signal behavior does not have to
// be inferred from "completion signal set + direction is read" (spec.md §9
// open question #3).
type Kind int

const (
	// KindHost is an ordinary request from an upstream block I/O client.
	KindHost Kind = iota
	// KindGC is a request synthesized by the garbage collector to read or
	// relocate a page.
	KindGC
)

// BlockDevice is the out-of-scope collaborator that actually performs I/O
// against physical storage. The core only depends on this interface;
// cmd/ftlsim supplies a synthetic implementation for exercising the core
// end-to-end.
type BlockDevice interface {
	// Submit begins the device-level operation described by w, at
	// w.DeviceSector(), reading or writing w.Payload(). The device must
	// eventually call w.Done with any device error (nil on success), on
	// its own goroutine.
	Submit(w *RequestWrapper)
}

// RequestWrapper is the per-I/O record bound to one physical address: the
// saved upstream completion hook and cookie, timing, the append point and
// forward-entry handle the address resolved to, and (for writes) the
// staged flash-page payload.
type RequestWrapper struct {
	owner *FTL
	orig  *Request

	savedComplete func(*Request, error)

	// completeOriginal is the parent request a GC-synthesized child
	// reports back to once the child completes (spec.md §6's
	// complete_original?).
	completeOriginal *Request
	// private is the caller-supplied cookie threaded through write(),
	// opaque to the core.
	private interface{}

	timeStart time.Time
	traceID   uuid.UUID

	ap           *AppendPoint
	handle       *ForwardEntryHandle
	logical      LogAddr
	addr         PhysAddr
	deviceSector uint64
	dir          Direction
	mapID        MapID
	kind         Kind

	flashPayload [][]byte // write path only: the flash page being committed

	syncSignal chan error // optional: set when the caller wants to block for completion

	lock *addrLock // holds the logical-address lock across the full submit

	// addrLocked is true once ownership of the logical-address lock has
	// passed into this wrapper (set right before submitBio). endio only
	// unlocks when this is set: a physical-address-only request (GC's
	// ReadPhysical) never takes the lock at all.
	addrLocked bool

	deferCount int
}

func newRequestWrapper() *RequestWrapper { return &RequestWrapper{} }

// bind installs the per-submit state onto a freshly obtained wrapper,
// saving the original request's completion hook as an explicit field
// rather than closure capture (spec.md §9). The append point, handle, and
// physical address are not yet known at bind time; allocAddr/mapLtop fill
// them in once allocation succeeds.
func (w *RequestWrapper) bind(owner *FTL, orig *Request, logical LogAddr, dir Direction, mapID MapID, kind Kind, lock *addrLock) {
	w.owner = owner
	w.orig = orig
	w.savedComplete = orig.Complete
	w.completeOriginal = nil
	w.private = nil
	w.timeStart = time.Time{}
	w.traceID = uuid.New()
	w.ap = nil
	w.handle = nil
	w.logical = logical
	w.addr = LTOPEmpty
	w.deviceSector = 0
	w.dir = dir
	w.mapID = mapID
	w.kind = kind
	w.flashPayload = nil
	w.syncSignal = nil
	w.lock = lock
	w.addrLocked = false
	w.deferCount = 0
}

func (w *RequestWrapper) reset() {
	*w = RequestWrapper{}
}

// Done is the device's completion callback, invoked exactly once per
// submitted wrapper on the device's own goroutine.
func (w *RequestWrapper) Done(err error) {
	w.owner.endio(w, err)
}

// DeviceSector returns the translated device-level sector this request
// targets: p.addr * NR_PHY_IN_LOG + (sector mod NR_PHY_IN_LOG), per
// spec.md §4.6.
func (w *RequestWrapper) DeviceSector() uint64 { return w.deviceSector }

// Payload returns the bytes to write (write path) or fill (read path).
func (w *RequestWrapper) Payload() []byte { return w.orig.Payload }

// Direction returns the request's I/O direction.
func (w *RequestWrapper) Direction() Direction { return w.dir }

// TraceID returns the wrapper's generated trace identifier.
func (w *RequestWrapper) TraceID() uuid.UUID { return w.traceID }

// Private returns the opaque cookie passed via WriteOpts.Private, for an
// Endio hook or device implementation that needs to recover caller
// context without a side channel.
func (w *RequestWrapper) Private() interface{} { return w.private }
