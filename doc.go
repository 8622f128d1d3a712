// Package canfd drives Xilinx CAN FD controller cores through their memory
// mapped registers.
//
// It includes:
//   - A Frame type covering classic and FD frames, with DLC tables and binary
//     marshaling helpers
//   - Device, the frame engine: mode and bit timing control, a 32 slot
//     transmit buffer allocator with batch queuing, sequential FIFO and
//     mailbox receive, acceptance filters and an interrupt dispatcher
//   - A device table loaded from YAML, with a built-in default
//   - The Bus abstraction with adapters over a Device, an in-memory loopback,
//     and a Linux SocketCAN FD socket, plus a filtering Mux and logging and
//     Prometheus decorators
//
// Register access goes through the Registers interface. Package uio maps a
// real core on Linux and package sim provides a software model of the core
// for tests and tooling.
package canfd
