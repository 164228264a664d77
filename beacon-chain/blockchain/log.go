package blockchain

import (
	"fmt"

	"github.com/shardbeacon/client/shared/bytesutil"
)

// logFields renders a 32-byte root in the truncated hex form used across
// the service's log lines.
func logFields(root [32]byte) string {
	return fmt.Sprintf("%#x", bytesutil.Trunc(root[:]))
}
