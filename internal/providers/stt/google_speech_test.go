package stt

import (
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
)

func TestEncodingFor(t *testing.T) {
	enc, rate := encodingFor("audio/ogg; codecs=opus")
	assert.Equal(t, speechpb.RecognitionConfig_OGG_OPUS, enc)
	assert.Equal(t, int32(48000), rate)

	enc, rate = encodingFor("audio/wav")
	assert.Equal(t, speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, enc)
	assert.Zero(t, rate)
}
