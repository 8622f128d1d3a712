// Package sim models a CAN FD controller at register level. A Controller
// implements canfd.Registers, so a canfd.Device can drive it exactly as it
// drives a mapped core: mode changes through SRR and MSR, transmit requests
// through TRR and TCR, reception through the RX FIFOs or mailboxes and the
// interrupt status registers.
//
// Frames requested in Loopback mode are received by the same controller.
// Frames requested in Normal mode are delivered to the other controllers on
// the same Network and complete once a peer in Normal mode has received
// them; without such a peer they stay pending.
package sim

import (
	"encoding/binary"
	"math/bits"
	"sync"

	"github.com/notnil/canfd"
)

// Memory map of the areas not exported by canfd.
const (
	txBase     = 0x0100
	txeBase    = 0x2000
	rxBase     = 0x2100
	rx1Base    = 0x4100
	afmrBase   = 0x0A00
	mbMaskBase = 0x2F00
	stride     = 72
)

// Register bits the model interprets.
const (
	srrSRST = 0x1
	srrCEN  = 0x2

	msrSleep = 0x01
	msrLBack = 0x02
	msrSnoop = 0x04

	srConfig = 0x0001
	srLBack  = 0x0002
	srSleep  = 0x0004
	srNormal = 0x0008
	srSnoop  = 0x1000

	fsrIRI0 = 0x00000080
	fsrIRI1 = 0x00800000
	txeIRI  = 0x00000080

	idStdShift = 21
	idSRR      = 0x00100000
	idIDE      = 0x00080000
	idExtShift = 1
	idRTR      = 0x00000001

	dlcCodeShift = 28
	dlcEDL       = 0x08000000
	dlcBRS       = 0x04000000
	dlcEFC       = 0x01000000
	dlcMMMask    = 0x00FF0000
	dlcStampMask = 0x0000FFFF

	isrLastRxShift = 18
)

// Depths of the modelled FIFOs.
const (
	FIFODepth    = 32
	TxEventDepth = 32
)

var dlcLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// fifo is the read index and fill level of one ring.
type fifo struct {
	ri, fl, depth int
}

func (f *fifo) full() bool { return f.fl == f.depth }
func (f *fifo) tail() int { return (f.ri + f.fl) % f.depth }
func (f *fifo) push() { f.fl++ }
func (f *fifo) pop() {
	if f.fl > 0 {
		f.ri = (f.ri + 1) % f.depth
		f.fl--
	}
}

// Controller is a simulated controller. It is safe for concurrent use.
type Controller struct {
	mu  sync.Mutex
	cfg canfd.Config
	net *Network

	mem map[uint32]uint32 // plain storage: buffers, timing, filters

	srr, msr, sr uint32
	isr, ier     uint32
	esr, ecr     uint32
	trr, tcr     uint32
	lastRx       int
	stamp        uint16

	rx  [2]fifo
	txe fifo

	rcsHost [3]uint32
	rcsCore [3]uint32
	mbID    []uint32

	failConfig bool
	holdCancel bool
	onIntr     func()

	txMu sync.Mutex // held for the whole of pump
}

// New returns a controller in its reset state.
func New(cfg canfd.Config) *Controller {
	c := &Controller{cfg: cfg}
	c.reset()
	return c
}

func (c *Controller) reset() {
	c.mem = make(map[uint32]uint32)
	c.srr, c.msr, c.sr = 0, 0, srConfig
	c.isr, c.ier, c.esr, c.ecr = 0, 0, 0, 0
	c.trr, c.tcr = 0, 0
	c.lastRx, c.stamp = 0, 0
	c.rx = [2]fifo{{depth: FIFODepth}, {depth: FIFODepth}}
	c.txe = fifo{depth: TxEventDepth}
	c.rcsHost, c.rcsCore = [3]uint32{}, [3]uint32{}
	c.mbID = make([]uint32, c.cfg.NumRxMailboxes)
}

// FailConfigEntry makes the model ignore the request to enter Config mode,
// as a core stuck in bus activity would.
func (c *Controller) FailConfigEntry(fail bool) {
	c.mu.Lock()
	c.failConfig = fail
	c.mu.Unlock()
}

// HoldCancel keeps cancellation requests pending until ServeCancel.
func (c *Controller) HoldCancel(hold bool) {
	c.mu.Lock()
	c.holdCancel = hold
	c.mu.Unlock()
}

// ServeCancel completes held cancellation requests.
func (c *Controller) ServeCancel() {
	before := c.begin()
	c.serveCancel()
	c.end(before)
}

// OnInterrupt registers fn to be called whenever an enabled interrupt source
// becomes pending. fn runs without the controller lock held but possibly on
// a peer's transmit path, so it must not access the controller itself.
func (c *Controller) OnInterrupt(fn func()) {
	c.mu.Lock()
	c.onIntr = fn
	c.mu.Unlock()
}

// InjectError latches a bus error: the ESR bits are set, the transmit error
// counter is bumped and the error interrupt is raised.
func (c *Controller) InjectError(esr uint32) {
	before := c.begin()
	c.esr |= esr
	if tec := c.ecr & 0xFF; tec < 0xF8 {
		c.ecr = c.ecr&^0xFF | (tec + 8)
	}
	c.isr |= canfd.IntrError
	c.end(before)
}

// Raise sets interrupt status bits directly.
func (c *Controller) Raise(mask uint32) {
	before := c.begin()
	c.isr |= mask
	c.end(before)
}

// Inject receives f from the bus as if another node had sent it. It returns
// false when the frame was dropped by filtering or overflow.
func (c *Controller) Inject(f canfd.Frame) bool {
	before := c.begin()
	ok := c.receive(encode(f))
	c.end(before)
	return ok
}

// InjectFIFO stores f directly in RX FIFO 0 or 1, bypassing the filters.
func (c *Controller) InjectFIFO(n int, f canfd.Frame) bool {
	before := c.begin()
	ok := c.storeFIFO(n, encode(f))
	c.end(before)
	return ok
}

// Pending returns the TX buffers with an outstanding request.
func (c *Controller) Pending() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trr
}

// Peek returns a register value without side effects.
func (c *Controller) Peek(off uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(off)
}

// ReadReg implements canfd.Registers. Reading TRR lets pending transmissions
// make progress.
func (c *Controller) ReadReg(off uint32) uint32 {
	if off == canfd.RegTRR {
		c.pump()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(off)
}

func (c *Controller) readLocked(off uint32) uint32 {
	switch off {
	case canfd.RegSRR:
		return c.srr
	case canfd.RegMSR:
		return c.msr
	case canfd.RegSR:
		return c.sr
	case canfd.RegISR:
		return c.isr | uint32(c.lastRx)<<isrLastRxShift
	case canfd.RegIER:
		return c.ier
	case canfd.RegICR:
		return 0
	case canfd.RegESR:
		return c.esr
	case canfd.RegECR:
		return c.ecr
	case canfd.RegTimestamp:
		return uint32(c.stamp) << 16
	case canfd.RegTRR:
		return c.trr
	case canfd.RegTCR:
		return c.tcr
	case canfd.RegFSR:
		return uint32(c.rx[0].ri) | uint32(c.rx[0].fl)<<8 |
			uint32(c.rx[1].ri)<<16 | uint32(c.rx[1].fl)<<24
	case canfd.RegTXEFSR:
		return uint32(c.txe.ri) | uint32(c.txe.fl)<<8
	}
	if b, ok := rcsBank(off); ok {
		return c.rcsHost[b] | c.rcsCore[b]<<16
	}
	return c.mem[off]
}

// WriteReg implements canfd.Registers. Handing a receive buffer back to the
// core lets peers blocked on it resume transmission.
func (c *Controller) WriteReg(off, v uint32) {
	before := c.begin()
	kick := c.writeLocked(off, v)
	nw := c.net
	c.end(before)
	if kick {
		c.pump()
	}
	if _, rcs := rcsBank(off); nw != nil && (rcs || off == canfd.RegFSR) {
		nw.kick(c)
	}
}

// writeLocked applies a register write and reports whether transmission
// should be attempted.
func (c *Controller) writeLocked(off, v uint32) bool {
	switch off {
	case canfd.RegSRR:
		if v&srrSRST != 0 {
			c.reset()
			return false
		}
		if v&srrCEN == 0 {
			if !c.failConfig {
				c.srr = v
				c.sr = srConfig
			}
			return false
		}
		c.srr = v
		c.updateSR()
		return true
	case canfd.RegMSR:
		c.msr = v
		if c.srr&srrCEN != 0 {
			c.updateSR()
			return true
		}
	case canfd.RegIER:
		c.ier = v
	case canfd.RegICR:
		c.isr &^= v
	case canfd.RegESR:
		c.esr &^= v
	case canfd.RegTimestamp:
		if v&1 != 0 {
			c.stamp = 0
		}
	case canfd.RegTRR:
		c.trr |= v
		return true
	case canfd.RegTCR:
		c.tcr |= v & c.trr
		if !c.holdCancel {
			c.serveCancel()
		}
	case canfd.RegFSR:
		if v&fsrIRI0 != 0 {
			c.rx[0].pop()
		}
		if v&fsrIRI1 != 0 {
			c.rx[1].pop()
		}
	case canfd.RegTXEFSR:
		if v&txeIRI != 0 {
			c.txe.pop()
		}
	default:
		if b, ok := rcsBank(off); ok {
			c.rcsHost[b] = v & 0xFFFF
			c.rcsCore[b] &^= v >> 16
			return false
		}
		if i, ok := c.mailboxIDIndex(off); ok {
			c.mbID[i] = v
		}
		c.mem[off] = v
	}
	return false
}

func (c *Controller) updateSR() {
	switch {
	case c.msr&msrSleep != 0:
		c.sr = srSleep
	case c.msr&msrLBack != 0:
		c.sr = srLBack
	case c.msr&msrSnoop != 0:
		c.sr = srNormal | srSnoop
	default:
		c.sr = srNormal
	}
}

func (c *Controller) serveCancel() {
	if c.tcr == 0 {
		return
	}
	c.trr &^= c.tcr
	c.tcr = 0
	c.isr |= canfd.IntrTxCancelServed
}

func rcsBank(off uint32) (int, bool) {
	if off >= canfd.RegRCS0 && off < canfd.RegRCS0+12 && off%4 == 0 {
		return int(off-canfd.RegRCS0) / 4, true
	}
	return 0, false
}

func (c *Controller) mailboxIDIndex(off uint32) (int, bool) {
	if c.cfg.RxMode != canfd.RxMailbox || off < rxBase || (off-rxBase)%stride != 0 {
		return 0, false
	}
	i := int((off - rxBase) / stride)
	return i, i < len(c.mbID)
}

// begin locks the controller and returns the enabled pending sources.
func (c *Controller) begin() uint32 {
	c.mu.Lock()
	return c.isr & c.ier
}

// end unlocks the controller and calls the interrupt callback if an enabled
// source became pending since begin.
func (c *Controller) end(before uint32) {
	fn := c.onIntr
	raised := c.isr & c.ier &^ before
	c.mu.Unlock()
	if fn != nil && raised != 0 {
		fn()
	}
}

// element is one buffer element in register form.
type element struct {
	id, dlc uint32
	data    [16]uint32
}

func (e *element) words() int {
	return (dlcLengths[e.dlc>>dlcCodeShift] + 3) / 4
}

func encode(f canfd.Frame) element {
	var e element
	if f.Extended {
		e.id = (f.ID>>18)<<idStdShift | idSRR | idIDE | (f.ID&0x3FFFF)<<idExtShift
		if f.RTR {
			e.id |= idRTR
		}
	} else {
		e.id = f.ID << idStdShift
		if f.RTR {
			e.id |= idSRR
		}
	}
	var code uint32
	for i, l := range dlcLengths {
		if l >= int(f.Len) {
			code = uint32(i)
			break
		}
	}
	e.dlc = code << dlcCodeShift
	if f.FD {
		e.dlc |= dlcEDL
	}
	if f.BRS {
		e.dlc |= dlcBRS
	}
	for i := range e.data {
		e.data[i] = binary.BigEndian.Uint32(f.Data[i*4:])
	}
	return e
}

// accepts reports whether an identifier word matches filter id under mask.
func accepts(id, mask, filter uint32) bool { return id&mask == filter&mask }

// route returns the RX FIFO a frame is filtered into. ok is false when
// acceptance filters are enabled and none matches.
func (c *Controller) route(id uint32) (n int, ok bool) {
	afr := c.mem[canfd.RegAFR]
	if afr == 0 {
		return 0, true
	}
	part := int((c.mem[canfd.RegWIR] >> 16) & 0x1F)
	for i := 0; i < canfd.NumFilters; i++ {
		if afr&(1<<i) == 0 {
			continue
		}
		mask, filter := c.mem[afmrBase+uint32(i)*8], c.mem[afmrBase+4+uint32(i)*8]
		if accepts(id, mask, filter) {
			if part != 0 && i >= part {
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

// mailboxFor returns the first active, empty mailbox accepting id. busy is
// true when a matching mailbox exists but all matching ones are full.
func (c *Controller) mailboxFor(id uint32) (i int, busy bool) {
	for i := range c.mbID {
		b, bit := i/16, uint32(1)<<(i%16)
		if c.rcsHost[b]&bit == 0 || !accepts(id, c.mem[mbMaskBase+uint32(i)*4], c.mbID[i]) {
			continue
		}
		if c.rcsCore[b]&bit == 0 {
			return i, false
		}
		busy = true
	}
	return -1, busy
}

// congested reports whether receiving e now would overflow a buffer. A
// congested node delays the sender, as an overload frame would. A mailbox
// node holds at most one unread frame from the network, so the last filled
// index in ISR always names it.
func (c *Controller) congested(e element) bool {
	if c.cfg.RxMode == canfd.RxMailbox {
		for _, core := range c.rcsCore {
			if core != 0 {
				return true
			}
		}
		i, busy := c.mailboxFor(e.id)
		return i < 0 && busy
	}
	n, ok := c.route(e.id)
	return ok && c.rx[n].full()
}

// receive stores a frame from the bus in the receive buffers.
func (c *Controller) receive(e element) bool {
	c.stamp++
	e.dlc = e.dlc&^(dlcEFC|dlcMMMask|dlcStampMask) | uint32(c.stamp)
	if c.cfg.RxMode == canfd.RxMailbox {
		return c.storeMailbox(e)
	}
	n, ok := c.route(e.id)
	if !ok {
		return false
	}
	return c.storeFIFO(n, e)
}

func (c *Controller) storeFIFO(n int, e element) bool {
	q := &c.rx[n]
	if q.full() {
		if n == 0 {
			c.isr |= canfd.IntrRxFIFOOverflow
		} else {
			c.isr |= canfd.IntrRxFIFO1Overflow
		}
		return false
	}
	base := uint32(rxBase)
	if n == 1 {
		base = rx1Base
	}
	c.storeElement(base+uint32(q.tail())*stride, e)
	q.push()
	c.isr |= canfd.IntrRxOK
	wir := c.mem[canfd.RegWIR]
	if n == 0 {
		if wm := int(wir & 0x3F); wm != 0 && q.fl >= wm {
			c.isr |= canfd.IntrRxWatermark
		}
	} else if wm := int((wir >> 8) & 0x3F); wm != 0 && q.fl >= wm {
		c.isr |= canfd.IntrRxFIFO1Wmark
	}
	return true
}

func (c *Controller) storeMailbox(e element) bool {
	i, _ := c.mailboxFor(e.id)
	if i < 0 {
		c.isr |= canfd.IntrRxMatchNotDone
		return false
	}
	c.storeElement(rxBase+uint32(i)*stride, e)
	c.rcsCore[i/16] |= 1 << (i % 16)
	c.lastRx = i
	c.isr |= canfd.IntrRxOK
	reg, pos := canfd.RegRXBFLL1, i
	if i >= 32 {
		reg, pos = canfd.RegRXBFLL2, i-32
	}
	if c.mem[uint32(reg)]&(1<<pos) != 0 {
		c.isr |= canfd.IntrRxBufferFull
	}
	return true
}

func (c *Controller) storeElement(off uint32, e element) {
	c.mem[off] = e.id
	c.mem[off+4] = e.dlc
	for w := 0; w < e.words(); w++ {
		c.mem[off+8+uint32(w*4)] = e.data[w]
	}
}

func (c *Controller) loadTx(i int) element {
	off := txBase + uint32(i)*stride
	e := element{id: c.mem[off], dlc: c.mem[off+4]}
	for w := 0; w < e.words(); w++ {
		e.data[w] = c.mem[off+8+uint32(w*4)]
	}
	return e
}

// complete retires TX buffer i after a successful transmission.
func (c *Controller) complete(i int, e element) {
	c.trr &^= 1 << i
	c.isr |= canfd.IntrTxOK
	if c.mem[canfd.RegIETRS]&(1<<i) != 0 {
		c.isr |= canfd.IntrTxReadyServed
	}
	if e.dlc&dlcEFC == 0 {
		return
	}
	if c.txe.full() {
		c.isr |= canfd.IntrTxEvOverflow
		return
	}
	off := txeBase + uint32(c.txe.tail())*8
	c.mem[off] = e.id
	c.mem[off+4] = e.dlc&^dlcStampMask | uint32(c.stamp)
	c.txe.push()
	if wm := int(c.mem[canfd.RegTXEFWM] & 0x1F); wm != 0 && c.txe.fl >= wm {
		c.isr |= canfd.IntrTxEvWatermark
	}
}

// pump transmits pending buffers in arbitration order.
func (c *Controller) pump() {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	for {
		before := c.begin()
		i, ok := c.nextTx()
		if !ok {
			c.mu.Unlock()
			return
		}
		e := c.loadTx(i)
		if c.sr&srLBack != 0 {
			c.receive(e)
			c.complete(i, e)
			c.end(before)
			continue
		}
		nw := c.net
		c.mu.Unlock()
		if nw == nil || !nw.deliver(c, e) {
			return
		}
		before = c.begin()
		if c.trr&(1<<i) != 0 {
			c.complete(i, e)
		}
		c.end(before)
	}
}

// nextTx picks the pending buffer that wins arbitration: the lowest
// identifier word, then the lowest buffer index. It reports false when the
// current mode does not transmit.
func (c *Controller) nextTx() (int, bool) {
	pending := c.trr &^ c.tcr
	if pending == 0 || c.sr&(srLBack|srNormal) == 0 || c.sr&srSnoop != 0 {
		return 0, false
	}
	best := bits.TrailingZeros32(pending)
	for p := pending & (pending - 1); p != 0; p &= p - 1 {
		i := bits.TrailingZeros32(p)
		if c.mem[txBase+uint32(i)*stride] < c.mem[txBase+uint32(best)*stride] {
			best = i
		}
	}
	return best, true
}

// listening reports whether the controller takes part in bus traffic.
func (c *Controller) listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sr&srNormal != 0
}

// Network is a shared bus connecting simulated controllers.
type Network struct {
	mu    sync.Mutex
	nodes []*Controller
}

// NewNetwork returns an empty network.
func NewNetwork() *Network { return &Network{} }

// Attach connects controllers to the network.
func (n *Network) Attach(cs ...*Controller) {
	n.mu.Lock()
	n.nodes = append(n.nodes, cs...)
	n.mu.Unlock()
	for _, c := range cs {
		c.mu.Lock()
		c.net = n
		c.mu.Unlock()
	}
}

// deliver hands e to every listening peer of from. It reports whether any
// peer acknowledged the frame; nothing is delivered while a peer is
// congested.
func (n *Network) deliver(from *Controller, e element) bool {
	var listeners []*Controller
	for _, p := range n.peers(from) {
		if !p.listening() {
			continue
		}
		p.mu.Lock()
		busy := p.congested(e)
		p.mu.Unlock()
		if busy {
			return false
		}
		listeners = append(listeners, p)
	}
	for _, p := range listeners {
		before := p.begin()
		p.receive(e)
		p.end(before)
	}
	return len(listeners) > 0
}

func (n *Network) peers(of *Controller) []*Controller {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]*Controller, 0, len(n.nodes))
	for _, c := range n.nodes {
		if c != of {
			peers = append(peers, c)
		}
	}
	return peers
}

// kick lets every peer of from retry its pending transmissions.
func (n *Network) kick(from *Controller) {
	for _, p := range n.peers(from) {
		p.pump()
	}
}

// Kick retries pending transmissions, for example after a peer joined.
func (c *Controller) Kick() { c.pump() }
