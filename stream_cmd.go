package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ssankko/speechkit/health"
	"github.com/ssankko/speechkit/recognize"
)

var streamCmd = &cobra.Command{
	Use:   "stream <audio-file>",
	Short: "Stream a raw audio file through a recognition session",
	Long:  `Stream a raw audio file to the recognition service frame by frame and print partial and final transcripts as they arrive.`,
	Args:  cobra.ExactArgs(1),
	Run:   runStream,
}

func init() {
	streamCmd.Flags().Int("chunk-size", 4000, "Bytes of audio per frame")
	streamCmd.Flags().String("language", "ru-RU", "Recognition language code")
	streamCmd.Flags().Int("rate", 8000, "Audio sample rate in hertz")
}

func runStream(cmd *cobra.Command, args []string) {
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	language, _ := cmd.Flags().GetString("language")
	rate, _ := cmd.Flags().GetInt("rate")

	cache, err := newTokenCache()
	if err != nil {
		logger.Fatal("token cache", "error", err)
	}

	client := recognize.NewClient(cache, logger)
	client.Endpoint = viper.GetString("stt_endpoint")
	client.Tracker = &health.Tracker{}

	cfg := recognize.DefaultConfig(viper.GetString("folder_id"))
	cfg.LanguageCode = language
	cfg.SampleRateHertz = rate

	session, err := client.StartSession(cmd.Context(), cfg)
	if err != nil {
		logger.Fatal("start session", "error", err)
	}

	file, err := os.Open(args[0])
	if err != nil {
		logger.Fatal("open audio file", "error", err)
	}
	defer file.Close()

	go feedAudio(session, file, chunkSize)

	for ev := range session.Results() {
		switch ev.Kind {
		case recognize.EventPartial:
			logger.Info("hear", "tmp", ev.Text())
		case recognize.EventFinal:
			fmt.Println(ev.Text())
		case recognize.EventError:
			logger.Error(
				"session failed",
				"error", ev.Err,
				"dropped_frames", ev.DroppedFrames,
			)
		}
	}
}

// feedAudio pushes the file into the sink one frame at a time, backing off
// whenever the session reports a full queue.
func feedAudio(session *recognize.Session, file *os.File, chunkSize int) {
	defer session.CloseSend()

	buf := make([]byte, chunkSize)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])

			for {
				sendErr := session.SendAudio(frame)
				if errors.Is(sendErr, recognize.ErrAudioBacklog) {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				if sendErr != nil {
					logger.Error("send audio", "error", sendErr)
					return
				}
				break
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			logger.Error("read audio file", "error", err)
			return
		}
	}
}
