package stt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
)

const (
	yandexEndpoint = "stt.api.cloud.yandex.net:443"
	yandexChunk    = 32 * 1024
)

// YandexConfig configures SpeechKit v3 streaming recognition
type YandexConfig struct {
	Endpoint string // defaults to the public SpeechKit endpoint
	IAMToken string
	FolderID string
	Language string
}

// Yandex streams an utterance to SpeechKit and joins the final results
type Yandex struct {
	client   speechkit.RecognizerClient
	conn     *grpc.ClientConn
	iamToken string
	folderID string
	language string
}

// NewYandex opens a TLS gRPC channel to SpeechKit. The channel connects lazily.
func NewYandex(cfg YandexConfig) (*Yandex, error) {
	if cfg.IAMToken == "" || cfg.FolderID == "" {
		return nil, errors.New("YANDEX_IAM_TOKEN and YANDEX_FOLDER_ID are required for yandex transcription")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = yandexEndpoint
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Yandex STT: %w", err)
	}
	return &Yandex{
		client:   speechkit.NewRecognizerClient(conn),
		conn:     conn,
		iamToken: cfg.IAMToken,
		folderID: cfg.FolderID,
		language: cfg.Language,
	}, nil
}

func (y *Yandex) Name() string { return "yandex" }

func (y *Yandex) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	md := metadata.Pairs(
		"authorization", "Bearer "+y.iamToken,
		"x-folder-id", y.folderID,
	)
	ctx = metadata.NewOutgoingContext(ctx, md)

	stream, err := y.client.RecognizeStreaming(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create streaming client: %w", err)
	}

	if err := stream.Send(y.sessionOptions(sampleRate)); err != nil {
		return "", fmt.Errorf("failed to send session options: %w", err)
	}
	for off := 0; off < len(pcm); off += yandexChunk {
		end := min(off+yandexChunk, len(pcm))
		chunk := &speechkit.StreamingRequest{
			Event: &speechkit.StreamingRequest_Chunk{
				Chunk: &speechkit.AudioChunk{Data: pcm[off:end]},
			},
		}
		if err := stream.Send(chunk); err != nil {
			return "", fmt.Errorf("failed to send audio chunk: %w", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close stream: %w", err)
	}

	var parts []string
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive recognition result: %w", err)
		}
		if final := resp.GetFinal(); final != nil {
			// the first alternative is the most likely one
			if alts := final.GetAlternatives(); len(alts) > 0 && alts[0].GetText() != "" {
				parts = append(parts, alts[0].GetText())
			}
		}
	}
	return strings.Join(parts, " "), nil
}

func (y *Yandex) sessionOptions(sampleRate int) *speechkit.StreamingRequest {
	return &speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_SessionOptions{
			SessionOptions: &speechkit.StreamingOptions{
				RecognitionModel: &speechkit.RecognitionModelOptions{
					AudioFormat: &speechkit.AudioFormatOptions{
						AudioFormat: &speechkit.AudioFormatOptions_RawAudio{
							RawAudio: &speechkit.RawAudio{
								AudioEncoding:     speechkit.RawAudio_LINEAR16_PCM,
								SampleRateHertz:   int64(sampleRate),
								AudioChannelCount: 1,
							},
						},
					},
					TextNormalization: &speechkit.TextNormalizationOptions{
						TextNormalization: speechkit.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
					},
					LanguageRestriction: &speechkit.LanguageRestrictionOptions{
						RestrictionType: speechkit.LanguageRestrictionOptions_WHITELIST,
						LanguageCode:    []string{y.language},
					},
					AudioProcessingType: speechkit.RecognitionModelOptions_FULL_DATA,
				},
			},
		},
	}
}

func (y *Yandex) Close() error {
	if y.conn == nil {
		return nil
	}
	return y.conn.Close()
}
