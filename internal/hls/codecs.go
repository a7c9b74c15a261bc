// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/videoedge/manifestcore/internal/errs"
)

// mimeTypeForURI guesses a segment MIME type from its file extension;
// buildRendition derives every rendition's MIME type from it, whether or
// not EXT-X-STREAM-INF carries CODECS. An unrecognized extension returns
// HLS_COULD_NOT_GUESS_MIME_TYPE; this function applies no default.
func mimeTypeForURI(uri string) (string, error) {
	u := strings.ToLower(uri)
	u = strings.SplitN(u, "?", 2)[0]
	switch {
	case strings.HasSuffix(u, ".mp4"), strings.HasSuffix(u, ".m4s"), strings.HasSuffix(u, ".m4v"), strings.HasSuffix(u, ".cmfv"), strings.HasSuffix(u, ".cmfa"):
		return "video/mp4", nil
	case strings.HasSuffix(u, ".ts"):
		return "video/mp2t", nil
	case strings.HasSuffix(u, ".aac"):
		return "audio/aac", nil
	case strings.HasSuffix(u, ".ac3"), strings.HasSuffix(u, ".ec3"):
		return "audio/eac3", nil
	case strings.HasSuffix(u, ".vtt"):
		return "text/vtt", nil
	default:
		return "", errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsCouldNotGuessMimeType, "cannot guess mime type for uri %q", uri)
	}
}

// aacObjectTypeCodecString maps an AAC mpeg4audio.ObjectType to its
// RFC 6381 "mp4a.40.N" codec string. mediacommon's ADTS-adjacent API
// only ever yields ObjectTypeAACLC in practice (see parseADTSHeader),
// so AAC-LC is the only case handled; anything else is reported rather
// than guessed.
func aacObjectTypeCodecString(t mpeg4audio.ObjectType) (string, error) {
	if t == mpeg4audio.ObjectTypeAACLC {
		return "mp4a.40.2", nil
	}
	return "", errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsCouldNotGuessCodecs, "unsupported AAC object type %v", t)
}

// parseADTSHeader extracts an mpeg4audio.Config from a raw ADTS frame
// header, the same bit layout the seven-byte ADTS fixed+variable header
// always carries (ISO/IEC 13818-7 Annex adts_fixed_header /
// adts_variable_header). mediacommon parses an AudioSpecificConfig, not
// a raw ADTS header, so this module still needs its own bit-field
// extraction.
func parseADTSHeader(data []byte) (*mpeg4audio.Config, error) {
	if len(data) < 7 || data[0] != 0xFF || data[1]&0xF0 != 0xF0 {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsCouldNotGuessCodecs, "not an ADTS frame")
	}
	profile := ((data[2] >> 6) & 0x03) + 1
	sampleRateIndex := (data[2] >> 2) & 0x0F
	channelConfig := ((data[2] & 0x01) << 2) | ((data[3] >> 6) & 0x03)

	sampleRates := []int{
		96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
		16000, 12000, 11025, 8000, 7350, 0, 0, 0,
	}
	if int(sampleRateIndex) >= len(sampleRates) || sampleRates[sampleRateIndex] == 0 {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsCouldNotGuessCodecs, "invalid ADTS sampling_frequency_index %d", sampleRateIndex)
	}
	if profile != 2 {
		return nil, errs.New(errs.CRITICAL, errs.MANIFEST, errs.HlsCouldNotGuessCodecs, "unsupported ADTS profile %d (only AAC-LC is supported)", profile)
	}

	return &mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   sampleRates[sampleRateIndex],
		ChannelCount: int(channelConfig),
	}, nil
}

// guessCodecsFromADTS derives an RFC 6381 codec string ("mp4a.40.2")
// plus sample-rate/channel-count from a probed ADTS header, used when
// an EXT-X-MEDIA audio rendition's EXT-X-STREAM-INF never named a
// CODECS attribute.
func guessCodecsFromADTS(adtsHeader []byte) (codecs string, sampleRate, channels int, err error) {
	cfg, err := parseADTSHeader(adtsHeader)
	if err != nil {
		return "", 0, 0, err
	}
	codecStr, err := aacObjectTypeCodecString(cfg.Type)
	if err != nil {
		return "", 0, 0, err
	}
	return codecStr, cfg.SampleRate, cfg.ChannelCount, nil
}
