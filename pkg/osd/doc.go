// Package osd reads and writes OSD captures recorded by the goggles.
package osd

// Capture layout, every integer is little-endian.
//
//   magic       [7]byte "MSPOSD\x00"
//   version     uint16
//   config {
//     charWidth   uint8   Grid columns.
//     charHeight  uint8   Grid rows.
//     fontWidth   uint8   Tile width in pixels.
//     fontHeight  uint8   Tile height in pixels.
//     xOffset     uint16
//     yOffset     uint16
//     fontVariant uint8
//   }
//   frames []frame
//
//
// frame {
//   frameNumber uint32  Video frame index the grid becomes visible at.
//   frameSize   uint32  Number of codes.
//   frameData   [frameSize]uint16
// }
//
// frameData is the character grid stored column-major, the code of
// cell (x, y) is at x*charHeight + y. The last frame may be cut short
// when the recording was interrupted.
