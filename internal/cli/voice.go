package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sjawhar/salon-coach/internal/config"
	"github.com/sjawhar/salon-coach/internal/voice"
)

// embeddingFile is the JSON layout accepted by "voice register --embedding".
type embeddingFile struct {
	Embedding    []float64 `json:"embedding"`
	QualityScore int       `json:"quality_score"`
}

func init() {
	voiceCmd := &cobra.Command{
		Use:   "voice",
		Short: "Manage staff voice samples",
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Register a staff voice from an embedding file or an audio sample",
		Args:  cobra.NoArgs,
		RunE:  runVoiceRegister,
	}
	register.Flags().StringP("staff", "s", "", "Staff ID (required)")
	register.Flags().String("salon", "", "Salon ID (required)")
	register.Flags().String("embedding", "", "JSON file with embedding and quality_score")
	register.Flags().String("audio", "", "Audio sample sent to the embedding extractor")
	register.Flags().Bool("additional", false, "Merge into the existing registration instead of replacing it")
	_ = register.MarkFlagRequired("staff")
	_ = register.MarkFlagRequired("salon")
	register.MarkFlagsOneRequired("embedding", "audio")
	register.MarkFlagsMutuallyExclusive("embedding", "audio")

	voiceCmd.AddCommand(register)
	RootCmd.AddCommand(voiceCmd)
}

func runVoiceRegister(cmd *cobra.Command, _ []string) error {
	staffID, _ := cmd.Flags().GetString("staff")
	salonID, _ := cmd.Flags().GetString("salon")
	embeddingPath, _ := cmd.Flags().GetString("embedding")
	audioPath, _ := cmd.Flags().GetString("audio")
	additional, _ := cmd.Flags().GetBool("additional")

	cfg, _, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	reg := voice.Registration{StaffID: staffID, SalonID: salonID, Additional: additional}
	if embeddingPath != "" {
		ef, err := readEmbeddingFile(embeddingPath)
		if err != nil {
			return err
		}
		reg.Embedding = ef.Embedding
		reg.QualityScore = ef.QualityScore
	} else {
		if cfg.ExtractorURL == "" {
			return errors.New("registering from audio needs an embedding extractor: set " + config.EnvPrefix + "EXTRACTOR_URL")
		}
		ext := voice.NewExtractor(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ParsedExtractorTimeout())
		f, err := os.Open(audioPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", audioPath, err)
		}
		defer func() { _ = f.Close() }()

		out, err := ext.Extract(cmd.Context(), filepath.Base(audioPath), f)
		if err != nil {
			return err
		}
		reg.Embedding = out.Embedding
		reg.QualityScore = out.QualityScore
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sample, err := voice.NewRegistry(store).Register(cmd.Context(), reg)
	if err != nil {
		return err
	}
	return writeIndented(cmd.OutOrStdout(), sample)
}

func readEmbeddingFile(path string) (embeddingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return embeddingFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	var ef embeddingFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return embeddingFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(ef.Embedding) == 0 {
		return embeddingFile{}, fmt.Errorf("decode %s: embedding is empty", path)
	}
	return ef, nil
}
