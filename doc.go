// Package synthpub publishes synthetic media into a real-time session. It
// produces a sine tone and random-colour video frames at a fixed pace and
// hands them to an SDK that streams them to the remote side.
//
// Key pieces include:
//   - Client: session lifecycle (start, connect, publish, stop, close)
//   - Publisher: glue between the SDK's capturer callbacks and the workers
//   - CaptureWorker: a paced producer loop feeding one sink
//   - AudioGenerator/VideoGenerator: the synthetic sources
//   - Config: credentials and run options from env, a dotenv file and flags
//
// # Architecture
//
//	Audio: AudioGenerator -> CaptureWorker -> AudioDevice.WriteCaptureData
//	Video: VideoGenerator -> CaptureWorker -> VideoCapturer.ProvideFrame
//	Control: Client -> SDK Session (Connect/Publish/Unpublish/Disconnect)
//
// Capture starts when the session reports OnConnected and the publisher is
// published. It stops when the publisher is unpublished or the session
// reports OnDisconnected; no sample or frame is delivered after that.
//
// # SDKs
//
// The SDK interface is the boundary to the media runtime. Package rtc
// implements it with pion/webrtc and a WebSocket signaling channel, sending
// L16 audio and raw video over RTP.
package synthpub
