// Package viz renders particle clouds and run summaries in the terminal.
//
//   - [Canvas]: braille dot canvas, 2x4 dots per cell
//   - [Camera] and [Scatter]: rotate a cloud about its center and project it
//   - lipgloss styles and small widgets ([ProgressBar], [Sparkline]) shared
//     by the CLI and the watcher
package viz
