package goroutine

import (
	"runtime/debug"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// SafeGo запускает горутину с перехватом panic. Фоновые доставки
// уведомлений и закрытие медленных клиентов не должны ронять процесс.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger.Log != nil {
					logger.Log.Errorf("panic в горутине: %v\n%s", r, debug.Stack())
				}
			}
		}()
		fn()
	}()
}
