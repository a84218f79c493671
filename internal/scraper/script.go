package scraper

// Extraction scripts serialize the visible list-table rows into a flat
// JSON array. Rows with fewer cells than the page's column layout are
// skipped inside the script so one malformed row cannot poison the batch.

const parentExtractionScript = `
(function () {
	const rows = document.querySelectorAll('table.aui tbody tr');
	const data = [];
	for (let i = 0; i < rows.length; i++) {
		const cells = rows[i].querySelectorAll('td');
		if (cells.length < 5) continue;
		const link = cells[0].querySelector('a');
		data.push({
			ticketNumber: cells[0].textContent.trim(),
			description: cells[1].textContent.trim(),
			status: cells[2].textContent.trim(),
			assignee: cells[3].textContent.trim(),
			batchName: cells[4].textContent.trim(),
			priority: cells.length > 5 ? cells[5].textContent.trim() : '',
			url: link ? link.href : ''
		});
	}
	return JSON.stringify(data);
})()
`

const subExtractionScript = `
(function () {
	const rows = document.querySelectorAll('table.aui tbody tr');
	const data = [];
	for (let i = 0; i < rows.length; i++) {
		const cells = rows[i].querySelectorAll('td');
		if (cells.length < 8) continue;
		const link = cells[0].querySelector('a');
		data.push({
			ticketNumber: cells[0].textContent.trim(),
			name: cells[1].textContent.trim(),
			status: cells[2].textContent.trim(),
			assignee: cells[3].textContent.trim(),
			parentTicket: cells[4].textContent.trim(),
			estimatedHours: cells[5].textContent.trim(),
			actualHours: cells[6].textContent.trim(),
			dueDate: cells[7].textContent.trim(),
			priority: cells.length > 8 ? cells[8].textContent.trim() : '',
			url: link ? link.href : ''
		});
	}
	return JSON.stringify(data);
})()
`

const tablePopulatedProbe = `String(document.querySelectorAll('table.aui tbody tr').length > 0)`
