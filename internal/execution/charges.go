package execution

import (
	"math"

	"algo-trading-engine/internal/types"
)

// Zerodha equity fee schedule. Rates are fractions of turnover unless
// noted otherwise.
const (
	intradayBrokeragePct = 0.0003 // 0.03%, capped per order
	intradayBrokerageMax = 20.0   // Rs 20 cap

	sttDeliveryPct     = 0.001   // 0.1% on both legs
	sttIntradaySellPct = 0.00025 // 0.025%, sell side only

	exchangeTxnNSE = 0.0000345
	exchangeTxnBSE = 0.0000375

	gstRate = 0.18 // on brokerage + exchange txn charges

	sebiCharges = 0.000001 // Rs 10 per crore

	stampDutyBuy = 0.00015 // buy side only
)

// CalculateCharges returns the total transaction charges in INR for one
// fill under the Zerodha fee structure: brokerage, STT, exchange
// transaction charges, GST, SEBI charges and stamp duty.
func CalculateCharges(exchange string, side types.Side, quantity int, price float64, product types.Product) float64 {
	turnover := float64(quantity) * price
	isBuy := side == types.Buy
	isIntraday := product == types.Intraday

	var brokerage float64
	if isIntraday {
		brokerage = math.Min(turnover*intradayBrokeragePct, intradayBrokerageMax)
	}

	var stt float64
	if isIntraday {
		if !isBuy {
			stt = turnover * sttIntradaySellPct
		}
	} else {
		stt = turnover * sttDeliveryPct
	}

	txnRate := exchangeTxnNSE
	if exchange == "BSE" {
		txnRate = exchangeTxnBSE
	}
	exchangeTxn := turnover * txnRate

	gst := (brokerage + exchangeTxn) * gstRate

	sebi := turnover * sebiCharges

	var stamp float64
	if isBuy {
		stamp = turnover * stampDutyBuy
	}

	total := brokerage + stt + exchangeTxn + gst + sebi + stamp
	return math.Round(total*100) / 100
}
