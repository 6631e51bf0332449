// Package usb implements the frame queue service between a USB device
// controller and the SCSI engine.
//
// # Frames and Queues
//
// A [Frame] is a fixed-size buffer owned by exactly one party at a time: a
// free pool, the controller (while a transfer is pending), or the engine
// (between Acquire and Release). Completed transfers are appended to one of
// three FIFO queues:
//
//   - [TxFree]: transmit frames ready for reuse
//   - [RxCommand]: frames received on the command endpoint
//   - [RxDataOut]: frames received on the data-out endpoint
//
// The controller reports completions from its own goroutine through
// [Service.ReceiveComplete] and [Service.TransmitComplete]. The engine
// consumes them with [Service.Acquire] or [Service.TryAcquire] and hands
// them back with [Service.Release], which re-arms receive frames on their
// endpoint.
//
// # Endpoints
//
// UAS uses four bulk pipes: command OUT ([EPCommand]), status IN
// ([EPStatus]), data IN ([EPDataIn]) and data OUT ([EPDataOut]). Bulk-Only
// Transport reuses the command and data-in pipes as its bulk OUT and IN.
package usb
