// Package rabbitmq bridges a message-processing pipeline and a RabbitMQ
// broker without the pipeline managing channels, acknowledgments, or reply
// correlation itself.
//
// The package includes:
//   - ConnectionManager: shared connection with automatic reconnection
//   - ChannelProvisioner: one lazily created channel per owner, with QoS
//   - Producer: fire-and-forget and RPC publishing with reply correlation
//   - Consumer: a fixed pool of worker loops, one channel per worker
//   - Config: immutable topology and delivery configuration
//
// Inbound deliveries are wrapped in a pipeline.Exchange, processed by the
// host pipeline, and settled by a completion handler that acknowledges on
// the consuming worker's channel and publishes replies on a dedicated reply
// channel.
package rabbitmq
