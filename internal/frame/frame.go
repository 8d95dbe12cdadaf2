package frame

// PCMFrame is a block of raw mono PCM samples, normalised to [-1, 1].
//
// All audio flowing through the engine — preloaded clip prefixes, blocks read
// from storage, and blocks handed to the realtime callback — is carried as
// PCMFrames.
type PCMFrame []float32
