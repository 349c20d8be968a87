// Package pipeline drives a composition task through its stages: validate
// inputs, download materials, synthesize unit clips, stitch them, burn
// subtitles, mix background music, and upload the final video. A Manager
// polls the task store and processes claimed tasks one at a time, with
// heartbeats so a crashed run can be reclaimed.
package pipeline
