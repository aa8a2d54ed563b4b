package stt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
)

const (
	YandexSTTEndpoint = "stt.api.cloud.yandex.net:443"

	yandexChunkSize = 32 * 1024
)

// YandexSTTClient transcribes recordings with Yandex SpeechKit streaming recognition
type YandexSTTClient struct {
	client   speechkit.RecognizerClient
	conn     *grpc.ClientConn
	iamToken string
	folderID string
	language string
	logger   *zap.Logger
}

var _ Transcriber = (*YandexSTTClient)(nil)

type YandexConfig struct {
	IamToken string
	FolderID string
	Language string
}

func NewYandexSTTClient(config YandexConfig, logger *zap.Logger) (*YandexSTTClient, error) {
	if config.IamToken == "" || config.FolderID == "" {
		return nil, fmt.Errorf("IAM token and folder ID are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tlsConfig := &tls.Config{}
	conn, err := grpc.NewClient(YandexSTTEndpoint, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Yandex STT: %w", err)
	}

	return &YandexSTTClient{
		client:   speechkit.NewRecognizerClient(conn),
		conn:     conn,
		iamToken: config.IamToken,
		folderID: config.FolderID,
		language: config.Language,
		logger:   logger,
	}, nil
}

func (s *YandexSTTClient) Close() error {
	return s.conn.Close()
}

func (s *YandexSTTClient) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	container, err := containerAudioType(audio.MediaType)
	if err != nil {
		return nil, &SubmissionError{Detail: err.Error(), Err: err}
	}
	if len(audio.Data) == 0 {
		return nil, &SubmissionError{Detail: "no audio to submit"}
	}

	md := metadata.Pairs(
		"authorization", "Bearer "+s.iamToken,
		"x-folder-id", s.folderID,
	)
	ctx = metadata.NewOutgoingContext(ctx, md)

	stream, err := s.client.RecognizeStreaming(ctx)
	if err != nil {
		return nil, submissionFailure("failed to create streaming client", err)
	}

	if err := stream.Send(s.sessionOptions(container)); err != nil {
		return nil, submissionFailure("failed to send session options", err)
	}

	for offset := 0; offset < len(audio.Data); offset += yandexChunkSize {
		end := offset + yandexChunkSize
		if end > len(audio.Data) {
			end = len(audio.Data)
		}
		chunk := &speechkit.StreamingRequest{
			Event: &speechkit.StreamingRequest_Chunk{
				Chunk: &speechkit.AudioChunk{Data: audio.Data[offset:end]},
			},
		}
		if err := stream.Send(chunk); err != nil {
			return nil, submissionFailure("failed to send audio chunk", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, submissionFailure("failed to close stream", err)
	}

	var parts []string
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, submissionFailure("failed to receive recognition results", err)
		}

		// Only the top alternative of each utterance is kept
		if alternatives := resp.GetFinal().GetAlternatives(); len(alternatives) > 0 {
			if text := alternatives[0].GetText(); text != "" {
				parts = append(parts, text)
			}
		}
	}

	s.logger.Debug("yandex recognition finished", zap.Int("utterances", len(parts)))

	return &Result{
		Transcript: strings.Join(parts, " "),
		Language:   s.language,
		Filename:   audio.Filename,
		FileSize:   int64(len(audio.Data)),
	}, nil
}

func (s *YandexSTTClient) sessionOptions(container speechkit.ContainerAudio_ContainerAudioType) *speechkit.StreamingRequest {
	model := &speechkit.RecognitionModelOptions{
		AudioFormat: &speechkit.AudioFormatOptions{
			AudioFormat: &speechkit.AudioFormatOptions_ContainerAudio{
				ContainerAudio: &speechkit.ContainerAudio{
					ContainerAudioType: container,
				},
			},
		},
		TextNormalization: &speechkit.TextNormalizationOptions{
			TextNormalization: speechkit.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
			ProfanityFilter:   false,
			LiteratureText:    false,
		},
		AudioProcessingType: speechkit.RecognitionModelOptions_FULL_DATA,
	}
	if s.language != "" {
		model.LanguageRestriction = &speechkit.LanguageRestrictionOptions{
			RestrictionType: speechkit.LanguageRestrictionOptions_WHITELIST,
			LanguageCode:    []string{s.language},
		}
	}

	return &speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_SessionOptions{
			SessionOptions: &speechkit.StreamingOptions{RecognitionModel: model},
		},
	}
}

// containerAudioType maps an artifact media type onto a SpeechKit container
func containerAudioType(mediaType string) (speechkit.ContainerAudio_ContainerAudioType, error) {
	mt := strings.ToLower(mediaType)
	switch {
	case strings.Contains(mt, "wav"):
		return speechkit.ContainerAudio_WAV, nil
	case strings.Contains(mt, "ogg"):
		return speechkit.ContainerAudio_OGG_OPUS, nil
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return speechkit.ContainerAudio_MP3, nil
	default:
		return speechkit.ContainerAudio_CONTAINER_AUDIO_TYPE_UNSPECIFIED,
			fmt.Errorf("media type %q is not supported by Yandex SpeechKit", mediaType)
	}
}

func submissionFailure(msg string, err error) *SubmissionError {
	return &SubmissionError{
		Detail: fmt.Sprintf("%s: %v", msg, err),
		Err:    err,
	}
}
