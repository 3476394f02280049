package services

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/security"
)

const exportPageSize = 1000

// ExportService regenerates plaintext tokens and streams batch manifests.
// Tokens are never stored, so export re-derives them from batch metadata and
// checks each one against the bottle's stored hash before it leaves the
// service.
type ExportService struct {
	bottleRepo repositories.BottleRepository
	batchRepo  repositories.BatchRepository
	crypto     *security.TokenCrypto
}

// NewExportService creates a new export service
func NewExportService(
	bottleRepo repositories.BottleRepository,
	batchRepo repositories.BatchRepository,
	crypto *security.TokenCrypto,
) *ExportService {
	return &ExportService{
		bottleRepo: bottleRepo,
		batchRepo:  batchRepo,
		crypto:     crypto,
	}
}

// ParseSerialNo extracts the serial number from a bottle identifier of the
// form "<batchId>-<serialNo>-btl_<uuid>". Returns 0 when the id does not
// carry one. The random suffix contains dashes of its own, so the serial is
// the segment just ahead of the "-btl_" marker rather than a fixed split
// position.
func ParseSerialNo(bottleID string) int {
	marker := strings.LastIndex(bottleID, "-btl_")
	if marker < 0 {
		return 0
	}
	serial := bottleID[:marker]
	if cut := strings.LastIndex(serial, "-"); cut >= 0 {
		serial = serial[cut+1:]
	}
	serialNo, err := strconv.Atoi(serial)
	if err != nil {
		return 0
	}
	return serialNo
}

// RegenerateToken rebuilds a bottle's plaintext token from its batch's
// metadata and verifies it against the stored hash
func (s *ExportService) RegenerateToken(bottle *models.Bottle, batch *models.Batch) (string, error) {
	serialNo := bottle.SerialNo
	if serialNo == 0 {
		serialNo = ParseSerialNo(bottle.BottleID)
	}
	if serialNo == 0 {
		return "", errors.Errorf("unable to derive serial number for bottle %s", bottle.BottleID)
	}

	companyName := resolveCompanyName("", batch)
	if companyName == "" {
		return "", errors.Errorf("batch %s has no company name for token derivation", batch.BatchID)
	}

	expiryDate := ""
	if batch.ExpiresAt != nil {
		expiryDate = batch.ExpiresAt.UTC().Format("2006-01-02")
	}

	token := TokenPlaintext(companyName, batch.BatchID, expiryDate, serialNo)
	if s.crypto.Hash(token) != bottle.QRTokenHash {
		return "", errors.Errorf("regenerated token for bottle %s does not match stored hash", bottle.BottleID)
	}
	return token, nil
}

// WriteManifest streams a batch's manifest as CSV: one row per bottle with
// its regenerated plaintext token. Fails closed before writing anything when
// the QR token secret is unset, so exports cannot be produced on a
// misconfigured server.
func (s *ExportService) WriteManifest(ctx context.Context, w io.Writer, batchID string) error {
	if err := s.crypto.RequireSecret(); err != nil {
		return err
	}

	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrBatchNotFound
		}
		return errors.Wrap(err, "failed to load batch")
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"bottleId", "batchId", "state", "token"}); err != nil {
		return errors.Wrap(err, "failed to write manifest header")
	}

	for offset := 0; ; offset += exportPageSize {
		bottles, err := s.bottleRepo.ListByBatch(ctx, batchID, offset, exportPageSize)
		if err != nil {
			return errors.Wrap(err, "failed to page bottles for manifest")
		}
		if len(bottles) == 0 {
			break
		}

		for i := range bottles {
			token, err := s.RegenerateToken(&bottles[i], batch)
			if err != nil {
				return err
			}
			row := []string{bottles[i].BottleID, bottles[i].BatchID, bottles[i].State, token}
			if err := writer.Write(row); err != nil {
				return errors.Wrap(err, "failed to write manifest row")
			}
		}

		if len(bottles) < exportPageSize {
			break
		}
	}

	writer.Flush()
	return errors.Wrap(writer.Error(), "failed to flush manifest")
}
