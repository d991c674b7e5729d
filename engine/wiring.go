package engine

func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(LabelCreatedEvent)
		e.log.Debug("label created", "qr", ev.QRValue, "batch", ev.BatchID)
	}, EventLabelCreated)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MasterRegisteredEvent)
		e.log.Info("master roll registered", "qr", ev.QRValue, "stock", ev.StockNumber, "actor", ev.Actor)
	}, EventMasterRegistered)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MasterSlitEvent)
		e.log.Info("master roll slit", "qr", ev.QRValue, "job", ev.JobID, "rolls", len(ev.ChildRollIDs), "recovered", ev.Recovered)
	}, EventMasterSlit)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ChildConsumedEvent)
		e.log.Info("child roll consumed", "id", ev.ChildRollID, "qr", ev.MasterRollQR, "job", ev.JobID)
	}, EventChildConsumed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(StockEvent)
		e.log.Info("stock "+evt.Type.String()[len("stock_"):], "stock", ev.StockNumber,
			"masters", ev.MasterRolls, "qrCodes", ev.QRCodes, "children", ev.ChildRolls)
	}, EventStockDeleted, EventStockRestored, EventStockPurged)
}
