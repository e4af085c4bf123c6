/*
Package phonic allows to build composable audio-analysis pipelines.

# Concept

Audio is decoded from a source and split into frames of fixed size. Frames
are pushed through a sequence of processing stages:

	Decoder - the origin of frames;
	Analyzer - accumulates a result from every frame;
	Encoder - writes frames into encoded media;
	Grapher - renders frames into a picture.

All stages are executed sequentially in a single goroutine. Independent pipes
can run in parallel.

# Components

Every stage implements Processor interface. Stages declare their identity
with Descriptor and receive stream properties in Setup. Process is called for
every frame, Finalize is called exactly once per run after the last frame.
Results returned from Finalize are collected in ResultContainer.

Plugins register their factories in the catalog:

	phonic.Register(descriptor, factory)

and can be instantiated by identifier:

	p, err := phonic.New("level", phonic.Args{})

# Cache

A decoder can be constructed with a Stack. During the first run the stack is
filled with decoded frames. Once the stream is over the stack is sealed and
consequent runs replay frames from it without touching the source.
*/
package phonic
