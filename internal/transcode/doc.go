// Package transcode converts source videos into the container the object
// store should hold.
//
// Three backends exist: ffmpeg (stream-copy remux with an H.264/AAC fallback),
// drapto (library AV1 encode into Matroska) and a passthrough that uploads
// sources unchanged. Transcoders write only to the output path they are given;
// choosing a private directory for it is the caller's job.
package transcode
