package obd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"obd-reader/common"
)

// ErrNoResponse - в ответе нет строки, относящейся к запрошенной команде
var ErrNoResponse = errors.New("no matching response")

// ReplyError - адаптер ответил сообщением об ошибке вместо данных
type ReplyError struct {
	Reply string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("adapter replied %q", e.Reply)
}

// elmErrors - ответы ELM327, означающие отсутствие данных
var elmErrors = []string{
	"NO DATA",
	"?",
	"STOPPED",
	"UNABLE TO CONNECT",
	"CAN ERROR",
	"BUS INIT",
	"BUS ERROR",
	"BUS BUSY",
	"FB ERROR",
	"DATA ERROR",
	"BUFFER FULL",
	"ACT ALERT",
	"LV RESET",
	"ERR",
}

func isELMError(line string) bool {
	for _, e := range elmErrors {
		if strings.HasPrefix(line, e) {
			return true
		}
	}
	return false
}

// ParseResponse разбирает строки ответа ELM327 на команду cmd.
// Используется первая строка с эхом режима и PID и достаточным числом байтов
// (при нескольких ЭБУ).
func ParseResponse(cmd Command, lines []string) (common.Value, error) {
	err := error(ErrNoResponse)

	for _, line := range lines {
		line = strings.ToUpper(strings.TrimSpace(line))
		if isELMError(line) {
			err = &ReplyError{Reply: line}
			continue
		}

		frame, decodeErr := lineBytes(line)
		if decodeErr != nil {
			err = decodeErr
			continue
		}

		// Формат: 41 0C A B
		if len(frame) < 2 || frame[0] != 0x40+cmd.Mode || frame[1] != cmd.PID {
			continue
		}

		data := frame[2:]
		if len(data) < cmd.Bytes {
			err = fmt.Errorf("response too short: %s", line)
			continue
		}

		// CAN ответы могут быть дополнены до 8 байт
		value, decodeErr := cmd.Decode(data[:cmd.Bytes])
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", cmd, decodeErr)
		}
		return value, nil
	}

	return nil, fmt.Errorf("%s: %w", cmd, err)
}

// lineBytes конвертирует строку "41 0C 1A F0" или "410C1AF0" в байты.
// При включенных заголовках "7E8 04 41 0C 1A F0" заголовок и PCI байт отбрасываются.
func lineBytes(line string) ([]byte, error) {
	fields := strings.Fields(line)
	if len(fields) > 2 && len(fields[0]) == 3 {
		fields = fields[2:]
	}

	data, err := hex.DecodeString(strings.Join(fields, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", line, err)
	}
	return data, nil
}
